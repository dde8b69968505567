package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"billing-engine/internal/constants"
	billingErrors "billing-engine/internal/errors"
	"billing-engine/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// JobReport 单次任务执行报告
type JobReport struct {
	Job        string   `json:"job"`
	Skipped    bool     `json:"skipped"`
	Processed  int      `json:"processed"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

func (r *JobReport) fail(id string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", id, err))
}

// JobLocker 任务分布式锁。acquired 为 false 表示其他实例持有锁，不是错误
type JobLocker interface {
	Acquire(ctx context.Context, name string) (release func(), acquired bool, err error)
}

// SchedulerState 进程内调度状态，同名任务不并发执行
type SchedulerState struct {
	mu         sync.Mutex
	running    bool
	activeJobs map[string]time.Time
}

// NewSchedulerState 创建调度状态
func NewSchedulerState() *SchedulerState {
	return &SchedulerState{
		activeJobs: make(map[string]time.Time),
	}
}

// Start 标记调度器已启动
func (s *SchedulerState) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

// Stop 标记调度器已停止
func (s *SchedulerState) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// IsRunning 调度器是否运行中
func (s *SchedulerState) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Begin 尝试标记任务开始，同名任务已在执行时返回 false
func (s *SchedulerState) Begin(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.activeJobs[name]; ok {
		return false
	}
	s.activeJobs[name] = time.Now()
	return true
}

// Finish 标记任务结束
func (s *SchedulerState) Finish(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeJobs, name)
}

// ActiveJobs 当前执行中的任务名
func (s *SchedulerState) ActiveJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.activeJobs))
	for name := range s.activeJobs {
		names = append(names, name)
	}
	return names
}

// JobUseCase 定时任务调度入口。所有任务可安全重复执行：
// 底层写操作幂等，中途失败后重跑不会产生重复扣费
type JobUseCase struct {
	subUC   *SubscriptionUseCase
	statsUC *StatsUseCase
	state   *SchedulerState
	locker  JobLocker
	log     *log.Helper
	metrics *metrics.BillingMetrics
}

// NewJobUseCase 创建任务 UseCase
func NewJobUseCase(
	subUC *SubscriptionUseCase,
	statsUC *StatsUseCase,
	state *SchedulerState,
	locker JobLocker,
	logger log.Logger,
) *JobUseCase {
	return &JobUseCase{
		subUC:   subUC,
		statsUC: statsUC,
		state:   state,
		locker:  locker,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// RunJob 按名称执行任务。未知任务名报错；同名任务在本进程或其他实例
// 执行中时跳过并返回 Skipped 报告
func (uc *JobUseCase) RunJob(ctx context.Context, name string) (*JobReport, error) {
	switch name {
	case constants.JobDailyRenewals, constants.JobGracePeriod,
		constants.JobLowCreditNotifications, constants.JobGraceReminders,
		constants.JobBillingStats:
	default:
		return nil, billingErrors.ErrUnknownJob(name)
	}

	if !uc.state.Begin(name) {
		uc.log.Warnf("Job already running in this process, skipping: job=%s", name)
		return uc.skipped(name), nil
	}
	defer uc.state.Finish(name)

	if uc.locker != nil {
		release, acquired, err := uc.locker.Acquire(ctx, name)
		if err != nil {
			return nil, err
		}
		if !acquired {
			uc.log.Warnf("Job lock held by another instance, skipping: job=%s", name)
			return uc.skipped(name), nil
		}
		defer release()
	}

	start := time.Now()
	report, err := uc.dispatch(ctx, name)
	elapsed := time.Since(start)
	if uc.metrics != nil {
		result := constants.JobResultSuccess
		if err != nil {
			result = constants.JobResultFailed
		}
		uc.metrics.JobRunTotal.WithLabelValues(name, result).Inc()
		uc.metrics.JobRunDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		if report != nil && report.Failed > 0 {
			uc.metrics.JobItemsFailed.WithLabelValues(name).Add(float64(report.Failed))
		}
	}
	if err != nil {
		uc.log.Errorf("Job run failed: job=%s, elapsed=%v, error=%v", name, elapsed, err)
		return nil, err
	}
	report.Job = name
	uc.log.Infof("Job run finished: job=%s, processed=%d, successful=%d, failed=%d, elapsed=%v",
		name, report.Processed, report.Successful, report.Failed, elapsed)
	return report, nil
}

func (uc *JobUseCase) dispatch(ctx context.Context, name string) (*JobReport, error) {
	switch name {
	case constants.JobDailyRenewals:
		return uc.subUC.ProcessAutoRenewals(ctx)
	case constants.JobGracePeriod:
		return uc.subUC.ProcessGracePeriodSubscriptions(ctx)
	case constants.JobLowCreditNotifications:
		return uc.subUC.SendLowCreditNotifications(ctx)
	case constants.JobGraceReminders:
		return uc.subUC.SendGraceReminders(ctx)
	case constants.JobBillingStats:
		report := &JobReport{Processed: 1}
		if _, err := uc.statsUC.CollectDaily(ctx, time.Now()); err != nil {
			report.fail(constants.JobBillingStats, err)
			return report, nil
		}
		report.Successful = 1
		return report, nil
	}
	return nil, billingErrors.ErrUnknownJob(name)
}

func (uc *JobUseCase) skipped(name string) *JobReport {
	if uc.metrics != nil {
		uc.metrics.JobRunTotal.WithLabelValues(name, constants.JobResultSkipped).Inc()
	}
	return &JobReport{Job: name, Skipped: true}
}
