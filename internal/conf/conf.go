package conf

// Bootstrap 应用配置根节点
// 通过 kratos config 从 configs/config.yaml 加载并 Scan 填充
type Bootstrap struct {
	Server  *Server  `json:"server"`
	Data    *Data    `json:"data"`
	Billing *Billing `json:"billing"`
}

// Server 服务端配置
type Server struct {
	Http *HTTP `json:"http"`
}

// HTTP HTTP 服务配置
type HTTP struct {
	Network        string `json:"network"`
	Addr           string `json:"addr"`
	TimeoutSeconds int64  `json:"timeout_seconds"`
}

// Data 数据层配置
type Data struct {
	Database *Database `json:"database"`
	Redis    *Redis    `json:"redis"`
	Rocketmq *Rocketmq `json:"rocketmq"`
}

// Database 数据库配置
type Database struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
}

// Redis Redis 配置
type Redis struct {
	Addr                string `json:"addr"`
	ReadTimeoutSeconds  int64  `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int64  `json:"write_timeout_seconds"`
}

// Rocketmq RocketMQ 配置
type Rocketmq struct {
	Enabled           bool     `json:"enabled"`
	NameServers       []string `json:"name_servers"`
	GroupName         string   `json:"group_name"`
	RetryTimes        int32    `json:"retry_times"`
	PaymentTopic      string   `json:"payment_topic"`      // 支付网关结算事件 topic
	NotificationTopic string   `json:"notification_topic"` // 通知事件 topic
}

// Billing 计费业务配置
type Billing struct {
	// 宽限期天数配置（默认值及允许区间）
	GraceDaysDefault int `json:"grace_days_default"`
	GraceDaysMin     int `json:"grace_days_min"`
	GraceDaysMax     int `json:"grace_days_max"`

	// 计费周期（月），续费时 end_date/next_billing 前进的月数
	BillingPeriodMonths int `json:"billing_period_months"`

	// 低余额检查：next_billing 距今不足该天数且余额不足时触发通知
	LowCreditLookaheadDays int `json:"low_credit_lookahead_days"`

	// 宽限期提醒：grace_period_end 距今不足该天数时触发提醒
	GraceReminderDays int `json:"grace_reminder_days"`

	// 是否在开户时自动发放 welcome_bonus 优惠券
	WelcomeBonusEnabled bool `json:"welcome_bonus_enabled"`

	// 是否启用宽限期策略（关闭时余额不足直接过期）
	GracePeriodEnabled bool `json:"grace_period_enabled"`

	// 计算实例管理服务地址（过期时调用实例销毁）
	ProvisioningEndpoint string `json:"provisioning_endpoint"`
}
