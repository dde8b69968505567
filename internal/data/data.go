package data

import (
	"fmt"
	"time"

	"billing-engine/internal/conf"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/google/wire"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewDB,
	NewRedis,
	NewRedsync,
	NewRocketMQProducer,
	NewData,
	NewLedgerRepo,
	NewPlanRepo,
	NewCouponRepo,
	NewSubscriptionRepo,
	NewStatsRepo,
	NewJobLocker,
	NewNotificationSender,
	NewProvisioningClient,
)

// Data 数据层结构体
// rdb 和 mq 允许为 nil（缓存和消息投递降级，不影响主流程）
type Data struct {
	db  *gorm.DB
	rdb *redis.Client
	mq  rocketmq.Producer
}

// withRowLock 给查询加 FOR UPDATE 行锁
// sqlite 方言不支持 FOR UPDATE，退化为普通读（单连接下写事务仍然串行）
func withRowLock(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// NewDB 创建数据库连接
func NewDB(c *conf.Bootstrap) (*gorm.DB, error) {
	if c.Data == nil || c.Data.Database == nil {
		return nil, fmt.Errorf("database config is nil")
	}
	db, err := gorm.Open(mysql.Open(c.Data.Database.Source), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// NewRedis 创建 Redis 连接
func NewRedis(c *conf.Bootstrap) (*redis.Client, error) {
	if c.Data == nil || c.Data.Redis == nil {
		return nil, fmt.Errorf("redis config is nil")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Data.Redis.Addr,
		ReadTimeout:  time.Duration(c.Data.Redis.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(c.Data.Redis.WriteTimeoutSeconds) * time.Second,
	})

	// 测试连接
	if err := rdb.Ping(rdb.Context()).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}

// NewRedsync 创建分布式锁客户端
func NewRedsync(rdb *redis.Client) *redsync.Redsync {
	return redsync.New(goredis.NewPool(rdb))
}

// NewRocketMQProducer 创建 RocketMQ 生产者，未启用时返回 nil
func NewRocketMQProducer(c *conf.Bootstrap, logger log.Logger) (rocketmq.Producer, func(), error) {
	helper := log.NewHelper(logger)
	noop := func() {}
	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled {
		helper.Info("rocketmq producer disabled")
		return nil, noop, nil
	}

	mq := c.Data.Rocketmq
	retry := int(mq.RetryTimes)
	if retry <= 0 {
		retry = 2
	}
	p, err := rocketmq.NewProducer(
		producer.WithNameServer(mq.NameServers),
		producer.WithGroupName(mq.GroupName),
		producer.WithRetry(retry),
	)
	if err != nil {
		return nil, nil, err
	}
	if err := p.Start(); err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := p.Shutdown(); err != nil {
			helper.Errorf("failed to shutdown rocketmq producer: %v", err)
		}
	}
	return p, cleanup, nil
}

// NewData 创建数据层实例
func NewData(c *conf.Bootstrap, logger log.Logger, db *gorm.DB, rdb *redis.Client, mq rocketmq.Producer) (*Data, func(), error) {
	cleanup := func() {
		log.NewHelper(logger).Info("closing the data resources")
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				log.NewHelper(logger).Errorf("failed to close redis: %v", err)
			}
		}
	}

	return &Data{
		db:  db,
		rdb: rdb,
		mq:  mq,
	}, cleanup, nil
}
