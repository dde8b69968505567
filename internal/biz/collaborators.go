package biz

import "context"

// NotificationEvent 通知事件（低余额提醒、宽限期提醒、订阅到期）
type NotificationEvent struct {
	UID            string `json:"uid"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Kind           string `json:"kind"`
	DaysRemaining  int    `json:"days_remaining,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// NotificationSender 通知投递接口，投递失败由调用方记日志后忽略
type NotificationSender interface {
	Send(ctx context.Context, event *NotificationEvent) error
}

// ProvisioningClient 资源编排服务客户端，订阅终止后回收实例
type ProvisioningClient interface {
	TerminateInstances(ctx context.Context, uid, subscriptionID string) error
}
