package data

import (
	"context"

	"billing-engine/internal/biz"
	"billing-engine/internal/conf"
	billingErrors "billing-engine/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// provisioningClient 资源编排服务 HTTP 客户端实现
// 未配置 endpoint 时为空实现，实例回收交由带外流程处理
type provisioningClient struct {
	client *khttp.Client
	log    *log.Helper
}

// NewProvisioningClient 创建资源编排服务客户端（返回 biz.ProvisioningClient 接口）
func NewProvisioningClient(c *conf.Bootstrap, logger log.Logger) (biz.ProvisioningClient, error) {
	logHelper := log.NewHelper(logger)
	if c.Billing == nil || c.Billing.ProvisioningEndpoint == "" {
		logHelper.Info("provisioning endpoint not configured, instance termination disabled")
		return &provisioningClient{log: logHelper}, nil
	}

	client, err := khttp.NewClient(
		context.Background(),
		khttp.WithEndpoint(c.Billing.ProvisioningEndpoint),
		khttp.WithMiddleware(
			recovery.Recovery(),
		),
	)
	if err != nil {
		return nil, err
	}
	return &provisioningClient{
		client: client,
		log:    logHelper,
	}, nil
}

type terminateRequest struct {
	UID            string `json:"uid"`
	SubscriptionID string `json:"subscription_id"`
}

type terminateReply struct {
	Terminated int `json:"terminated"`
}

// TerminateInstances 回收用户在该订阅下的计算实例
func (c *provisioningClient) TerminateInstances(ctx context.Context, uid, subscriptionID string) error {
	if c.client == nil {
		c.log.Infof("skip instance termination (no endpoint): uid=%s, subscription_id=%s", uid, subscriptionID)
		return nil
	}
	req := &terminateRequest{UID: uid, SubscriptionID: subscriptionID}
	var reply terminateReply
	if err := c.client.Invoke(ctx, "POST", "/v1/instances/terminate", req, &reply); err != nil {
		c.log.Errorf("terminate instances failed: uid=%s, subscription_id=%s, error=%v", uid, subscriptionID, err)
		return billingErrors.ErrExternalUnavailable("provisioning", err)
	}
	c.log.Infof("instances terminated: uid=%s, subscription_id=%s, count=%d", uid, subscriptionID, reply.Terminated)
	return nil
}
