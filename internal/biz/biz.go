package biz

import "github.com/google/wire"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewBillingConfig,
	NewLedgerUseCase,
	NewAccountUseCase,
	NewQuotaUseCase,
	NewCouponUseCase,
	NewSubscriptionUseCase,
	NewStatsUseCase,
	NewSchedulerState,
	NewJobUseCase, // 任务注册表，组合各领域 UseCase
)
