package server

import (
	"context"
	"encoding/json"

	"billing-engine/internal/biz"
	"billing-engine/internal/conf"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// SettlementEvent 支付网关结算事件
type SettlementEvent struct {
	EntryID    string `json:"entry_id"`
	Outcome    string `json:"outcome"` // success / failed
	GatewayRef string `json:"gateway_ref"`
}

// MQConsumerServer 消费支付网关结算事件，驱动充值流水终结
type MQConsumerServer struct {
	c        rocketmq.PushConsumer
	ledgerUC *biz.LedgerUseCase
	conf     *conf.Data
	log      *log.Helper
	enabled  bool
}

// NewMQConsumerServer 创建 RocketMQ 消费者服务
func NewMQConsumerServer(c *conf.Bootstrap, ledgerUC *biz.LedgerUseCase, logger log.Logger) *MQConsumerServer {
	helper := log.NewHelper(logger)
	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled {
		return &MQConsumerServer{enabled: false, log: helper}
	}

	mq := c.Data.Rocketmq
	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(mq.NameServers)),
		consumer.WithGroupName(mq.GroupName),
		consumer.WithRetry(int(mq.RetryTimes)),
	)
	if err != nil {
		helper.Errorf("init consumer error: %v", err)
		return &MQConsumerServer{enabled: false, log: helper}
	}

	return &MQConsumerServer{
		c:        r,
		ledgerUC: ledgerUC,
		conf:     c.Data,
		log:      helper,
		enabled:  true,
	}
}

// Start 启动消费者
func (s *MQConsumerServer) Start(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		s.log.Info("MQConsumerServer is disabled, skipping startup")
		return nil
	}

	topic := s.conf.Rocketmq.PaymentTopic
	s.log.Infof("Starting MQConsumerServer, topic: %s", topic)

	if err := s.c.Subscribe(topic, consumer.MessageSelector{}, s.handler); err != nil {
		// 不中断整个应用启动，开发环境中 RocketMQ 可能不可用
		s.log.Errorf("Failed to subscribe to topic %s: %v", topic, err)
		return nil
	}
	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start RocketMQ consumer: %v", err)
		return nil
	}
	return nil
}

// Stop 停止消费者
func (s *MQConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping MQConsumerServer")
	return s.c.Shutdown()
}

func (s *MQConsumerServer) handler(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	for _, msg := range msgs {
		var event SettlementEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			// 坏消息不重试
			s.log.Errorf("Unmarshal settlement event failed: %v, body: %s", err, string(msg.Body))
			continue
		}

		err := s.ledgerUC.FinalizeTopUp(ctx, event.EntryID, event.Outcome, event.GatewayRef)
		if err != nil {
			// 业务失败（流水不存在、参数非法）重试也不会成功，确认掉；
			// 基础设施失败走 MQ 重试
			if ke := kerrors.FromError(err); ke.Code >= 500 {
				s.log.Errorf("FinalizeTopUp failed, will retry: entry_id=%s, error=%v", event.EntryID, err)
				return consumer.ConsumeRetryLater, nil
			}
			s.log.Warnf("FinalizeTopUp rejected: entry_id=%s, error=%v", event.EntryID, err)
		}
	}
	return consumer.ConsumeSuccess, nil
}
