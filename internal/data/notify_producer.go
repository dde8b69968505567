package data

import (
	"context"
	"encoding/json"

	"billing-engine/internal/biz"
	"billing-engine/internal/conf"

	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// notifySender 通过 RocketMQ 投递通知事件，下游通知服务消费后触达用户
type notifySender struct {
	data  *Data
	topic string
	log   *log.Helper
}

// NewNotificationSender 创建通知投递器（返回 biz.NotificationSender 接口）
func NewNotificationSender(c *conf.Bootstrap, data *Data, logger log.Logger) biz.NotificationSender {
	topic := "billing_notification"
	if c.Data != nil && c.Data.Rocketmq != nil && c.Data.Rocketmq.NotificationTopic != "" {
		topic = c.Data.Rocketmq.NotificationTopic
	}
	return &notifySender{
		data:  data,
		topic: topic,
		log:   log.NewHelper(logger),
	}
}

// Send 投递通知事件。MQ 未启用时只记日志，通知丢失不影响计费主流程
func (s *notifySender) Send(ctx context.Context, event *biz.NotificationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if s.data.mq == nil {
		s.log.Infof("notification (mq disabled): %s", string(body))
		return nil
	}
	msg := primitive.NewMessage(s.topic, body)
	msg.WithTag(event.Kind)
	result, err := s.data.mq.SendSync(ctx, msg)
	if err != nil {
		return err
	}
	s.log.Debugf("notification sent: uid=%s, kind=%s, msg_id=%s", event.UID, event.Kind, result.MsgID)
	return nil
}
