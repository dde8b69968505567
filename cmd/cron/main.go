package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billing-engine/internal/conf"
	"billing-engine/internal/constants"
	"billing-engine/internal/metrics"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	// 初始化配置
	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	// 初始化日志 (使用 go-pkg/logger)
	logConfig := &logger.Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		FilePath:      "logs/billing-engine-cron.log",
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	}

	loggerInstance := logger.NewLogger(logConfig)

	// 添加基本字段
	loggerInstance = log.With(loggerInstance,
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", "billing-engine-cron",
	)

	logHelper := log.NewHelper(loggerInstance)

	metrics.InitMetrics()

	// 初始化应用
	app, cleanup, err := wireApp(&bc)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	app.state.Start()
	defer app.state.Stop()

	// 创建定时任务调度器（支持秒级调度）
	cronScheduler := cron.New(cron.WithSeconds())

	// 运行单个计费任务，带超时和统一日志
	runJob := func(name string) func() {
		return func() {
			logHelper.Infof("[CRON] Starting job: %s", name)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			report, err := app.jobUC.RunJob(ctx, name)
			if err != nil {
				logHelper.Errorf("[CRON] Job %s error: %v", name, err)
				return
			}
			if report.Skipped {
				logHelper.Infof("[CRON] Job %s skipped (already running elsewhere)", name)
				return
			}
			logHelper.Infof("[CRON] Job %s completed: processed=%d, successful=%d, failed=%d",
				name, report.Processed, report.Successful, report.Failed)
			for _, e := range report.Errors {
				logHelper.Warnf("[CRON] Job %s item error: %s", name, e)
			}
		}
	}

	schedules := []struct {
		spec string
		job  string
		desc string
	}{
		// 每日续费扣费 - 每天 02:00
		{"0 0 2 * * *", constants.JobDailyRenewals, "Daily renewals: Every day at 02:00"},
		// 宽限期到期处理 - 每天 02:30
		{"0 30 2 * * *", constants.JobGracePeriod, "Grace period expiry: Every day at 02:30"},
		// 余额不足提醒 - 每天 10:00
		{"0 0 10 * * *", constants.JobLowCreditNotifications, "Low credit notifications: Every day at 10:00"},
		// 宽限期提醒 - 每天 10:30
		{"0 30 10 * * *", constants.JobGraceReminders, "Grace period reminders: Every day at 10:30"},
		// 计费统计快照 - 每天 23:50
		{"0 50 23 * * *", constants.JobBillingStats, "Billing stats snapshot: Every day at 23:50"},
	}

	for _, s := range schedules {
		if _, err := cronScheduler.AddFunc(s.spec, runJob(s.job)); err != nil {
			logHelper.Errorf("Failed to add job %s: %v", s.job, err)
		}
	}

	// 启动定时任务
	cronScheduler.Start()
	logHelper.Info("========================================")
	logHelper.Info("Cron jobs started successfully")
	logHelper.Info("Scheduled jobs:")
	for _, s := range schedules {
		logHelper.Infof("  - %s", s.desc)
	}
	logHelper.Info("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logHelper.Info("Shutting down gracefully...")

	// 停止定时任务
	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		logHelper.Info("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		logHelper.Info("Cron jobs forced to stop after timeout")
	}
}
