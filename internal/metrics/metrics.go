package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics 计费引擎指标
type BillingMetrics struct {
	// 流水相关指标
	LedgerOpTotal    *prometheus.CounterVec   // 流水操作总数（按类型、结果）
	LedgerOpDuration *prometheus.HistogramVec // 流水操作耗时
	LedgerAmount     *prometheus.CounterVec   // 流水金额（按类型）

	// 续费相关指标
	RenewalTotal    *prometheus.CounterVec // 续费总数（按结果：renewed/grace/expired/quota_blocked）
	RenewalDuration prometheus.Histogram   // 单笔续费耗时
	GraceEntered    prometheus.Counter     // 进入宽限期总数
	GraceRecovered  prometheus.Counter     // 宽限期内恢复总数

	// 配额相关指标
	QuotaAllocateTotal *prometheus.CounterVec // 配额分配总数（按结果）
	QuotaUtilization   *prometheus.GaugeVec   // 配额使用率（按套餐）

	// 优惠券相关指标
	CouponRedeemTotal    *prometheus.CounterVec // 兑换总数（按结果）
	CouponRedeemDuration prometheus.Histogram   // 兑换耗时

	// 充值相关指标
	TopUpTotal        *prometheus.CounterVec // 充值流水总数（按状态）
	TopUpPendingGauge prometheus.Gauge       // 待结算充值数量

	// 任务相关指标
	JobRunTotal    *prometheus.CounterVec   // 任务执行总数（按任务、结果）
	JobRunDuration *prometheus.HistogramVec // 任务执行耗时
	JobItemsFailed *prometheus.CounterVec   // 任务内失败条目数

	// 通知相关指标
	NotifySendTotal *prometheus.CounterVec // 通知发送总数（按类型、结果）
}

// NewBillingMetrics 创建计费引擎指标
func NewBillingMetrics() *BillingMetrics {
	return &BillingMetrics{
		LedgerOpTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_ledger_op_total",
				Help: "Total number of ledger operations",
			},
			[]string{"type", "result"},
		),
		LedgerOpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_ledger_op_duration_seconds",
				Help:    "Duration of ledger operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		LedgerAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_ledger_amount_total",
				Help: "Total credit amount moved by ledger operations",
			},
			[]string{"type"},
		),

		RenewalTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_renewal_total",
				Help: "Total number of renewal attempts",
			},
			[]string{"result"},
		),
		RenewalDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_renewal_duration_seconds",
				Help:    "Duration of single renewal attempts",
				Buckets: prometheus.DefBuckets,
			},
		),
		GraceEntered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_grace_entered_total",
				Help: "Total number of subscriptions entering grace period",
			},
		),
		GraceRecovered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_grace_recovered_total",
				Help: "Total number of subscriptions recovered from grace period",
			},
		),

		QuotaAllocateTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_quota_allocate_total",
				Help: "Total number of quota allocations",
			},
			[]string{"result"},
		),
		QuotaUtilization: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "billing_quota_utilization",
				Help: "Quota utilization ratio per plan",
			},
			[]string{"plan"},
		),

		CouponRedeemTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_coupon_redeem_total",
				Help: "Total number of coupon redemptions",
			},
			[]string{"result"},
		),
		CouponRedeemDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_coupon_redeem_duration_seconds",
				Help:    "Duration of coupon redemption operations",
				Buckets: prometheus.DefBuckets,
			},
		),

		TopUpTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_topup_total",
				Help: "Total number of top-up entries",
			},
			[]string{"status"},
		),
		TopUpPendingGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "billing_topup_pending",
				Help: "Number of pending top-up entries",
			},
		),

		JobRunTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_job_run_total",
				Help: "Total number of scheduler job runs",
			},
			[]string{"job", "result"},
		),
		JobRunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_job_run_duration_seconds",
				Help:    "Duration of scheduler job runs",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"job"},
		),
		JobItemsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_job_items_failed_total",
				Help: "Total number of failed items within job runs",
			},
			[]string{"job"},
		),

		NotifySendTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_notify_send_total",
				Help: "Total number of notification events sent",
			},
			[]string{"kind", "result"},
		),
	}
}

// 全局指标实例
var defaultMetrics *BillingMetrics

// InitMetrics 初始化全局指标
func InitMetrics() {
	defaultMetrics = NewBillingMetrics()
}

// GetMetrics 获取全局指标实例
func GetMetrics() *BillingMetrics {
	if defaultMetrics == nil {
		InitMetrics()
	}
	return defaultMetrics
}
