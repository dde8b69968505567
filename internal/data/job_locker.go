package data

import (
	"context"
	"errors"
	"time"

	"billing-engine/internal/biz"
	"billing-engine/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// jobLocker 基于 Redis 的任务分布式锁，保证多实例部署时同名任务只跑一个
type jobLocker struct {
	sync *redsync.Redsync
	log  *log.Helper
}

// NewJobLocker 创建任务锁（返回 biz.JobLocker 接口）
func NewJobLocker(sync *redsync.Redsync, logger log.Logger) biz.JobLocker {
	return &jobLocker{
		sync: sync,
		log:  log.NewHelper(logger),
	}
}

// Acquire 尝试获取任务锁，不重试：锁被占用返回 acquired=false
func (l *jobLocker) Acquire(ctx context.Context, name string) (func(), bool, error) {
	mutex := l.sync.NewMutex(
		constants.RedisKeyJobLock+name,
		redsync.WithExpiry(10*time.Minute),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if errors.Is(err, redsync.ErrFailed) {
			return nil, false, nil
		}
		return nil, false, err
	}
	release := func() {
		if ok, err := mutex.Unlock(); !ok || err != nil {
			l.log.Warnf("failed to release job lock: job=%s, error=%v", name, err)
		}
	}
	return release, true, nil
}
