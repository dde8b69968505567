package biz

import (
	"context"
	"time"

	"billing-engine/internal/constants"
	billingErrors "billing-engine/internal/errors"
	"billing-engine/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// Account 账户领域对象
type Account struct {
	UID        string
	Balance    int64
	TotalTopUp int64
	TotalSpent int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LedgerEntry 账本流水领域对象
type LedgerEntry struct {
	ID            string
	UID           string
	Type          string
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Status        string
	Description   string
	Metadata      map[string]string
	GatewayRef    string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// LedgerRepo 账本数据层接口（定义在 biz 层）
// 余额变更与流水写入必须由实现方放在同一事务中完成
type LedgerRepo interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, uid string) (*Account, error)

	AddCredit(ctx context.Context, uid string, amount int64, entryType, description string, metadata map[string]string) (*LedgerEntry, error)
	DeductCredit(ctx context.Context, uid string, amount int64, entryType, description string, metadata map[string]string, allowNegative bool) (*LedgerEntry, error)

	// 网关充值：pending 流水先落库，结算事件到达后终结
	CreatePendingTopUp(ctx context.Context, uid string, amount int64, description string, metadata map[string]string) (*LedgerEntry, error)
	FinalizeTopUp(ctx context.Context, entryID, outcome, gatewayRef string) (*LedgerEntry, error)
	CancelTopUp(ctx context.Context, entryID, uid string) error

	GetEntry(ctx context.Context, entryID string) (*LedgerEntry, error)
	ListEntries(ctx context.Context, uid string, page, pageSize int) ([]*LedgerEntry, int64, error)
	CountPendingTopUps(ctx context.Context) (int64, error)
}

// LedgerUseCase 账本业务逻辑
type LedgerUseCase struct {
	repo    LedgerRepo
	log     *log.Helper
	metrics *metrics.BillingMetrics
}

// NewLedgerUseCase 创建账本 UseCase
func NewLedgerUseCase(repo LedgerRepo, logger log.Logger) *LedgerUseCase {
	return &LedgerUseCase{
		repo:    repo,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// GetAccount 获取账户
func (uc *LedgerUseCase) GetAccount(ctx context.Context, uid string) (*Account, error) {
	account, err := uc.repo.GetAccount(ctx, uid)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, billingErrors.ErrAccountNotFound(uid)
	}
	return account, nil
}

// AddCredit 入账
// amount 必须为正数；totalTopUp 仅在 top_up 类型流水时递增（由数据层按类型处理）
func (uc *LedgerUseCase) AddCredit(ctx context.Context, uid string, amount int64, entryType, description string, metadata map[string]string) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, billingErrors.ErrInvalidArgument("amount must be positive")
	}
	startTime := time.Now()
	entry, err := uc.repo.AddCredit(ctx, uid, amount, entryType, description, metadata)
	uc.observeLedgerOp(entryType, startTime, err)
	if err != nil {
		return nil, err
	}
	if uc.metrics != nil {
		uc.metrics.LedgerAmount.WithLabelValues(entryType).Add(float64(amount))
	}
	return entry, nil
}

// DeductCredit 扣款
// allowNegative 仅管理员调账场景为 true；余额不足时返回 InsufficientCredit
func (uc *LedgerUseCase) DeductCredit(ctx context.Context, uid string, amount int64, entryType, description string, metadata map[string]string, allowNegative bool) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, billingErrors.ErrInvalidArgument("amount must be positive")
	}
	startTime := time.Now()
	entry, err := uc.repo.DeductCredit(ctx, uid, amount, entryType, description, metadata, allowNegative)
	uc.observeLedgerOp(entryType, startTime, err)
	if err != nil {
		return nil, err
	}
	if uc.metrics != nil {
		uc.metrics.LedgerAmount.WithLabelValues(entryType).Add(float64(amount))
	}
	return entry, nil
}

// CreateTopUp 发起网关充值：创建 pending 流水，返回流水ID供网关回传
// pending 流水在结算前不影响余额
func (uc *LedgerUseCase) CreateTopUp(ctx context.Context, uid string, amount int64, description string, metadata map[string]string) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, billingErrors.ErrInvalidArgument("amount must be positive")
	}
	entry, err := uc.repo.CreatePendingTopUp(ctx, uid, amount, description, metadata)
	if err != nil {
		return nil, err
	}
	if uc.metrics != nil {
		uc.metrics.TopUpTotal.WithLabelValues(constants.EntryStatusPending).Inc()
	}
	uc.log.Infof("Top-up created: entry_id=%s, uid=%s, amount=%d", entry.ID, uid, amount)
	return entry, nil
}

// FinalizeTopUp 结算网关充值（幂等）
// 非 pending 流水（已结算/已取消）的迟到事件视为 no-op，不报错不重放
func (uc *LedgerUseCase) FinalizeTopUp(ctx context.Context, entryID, outcome, gatewayRef string) error {
	if outcome != constants.SettlementOutcomeSuccess && outcome != constants.SettlementOutcomeFailed {
		return billingErrors.ErrInvalidArgument("outcome must be success or failed")
	}
	entry, err := uc.repo.FinalizeTopUp(ctx, entryID, outcome, gatewayRef)
	if err != nil {
		return err
	}
	if entry == nil {
		// 迟到/重复事件
		uc.log.Infof("Top-up finalize ignored (already terminal): entry_id=%s, outcome=%s", entryID, outcome)
		return nil
	}
	if uc.metrics != nil {
		uc.metrics.TopUpTotal.WithLabelValues(entry.Status).Inc()
	}
	uc.log.Infof("Top-up finalized: entry_id=%s, status=%s, gateway_ref=%s", entryID, entry.Status, gatewayRef)
	return nil
}

// CancelTopUp 持有人取消未结算的充值
func (uc *LedgerUseCase) CancelTopUp(ctx context.Context, entryID, uid string) error {
	if err := uc.repo.CancelTopUp(ctx, entryID, uid); err != nil {
		return err
	}
	if uc.metrics != nil {
		uc.metrics.TopUpTotal.WithLabelValues(constants.EntryStatusCancelled).Inc()
	}
	uc.log.Infof("Top-up cancelled: entry_id=%s, uid=%s", entryID, uid)
	return nil
}

// GetTopUpStatus 查询充值流水状态
func (uc *LedgerUseCase) GetTopUpStatus(ctx context.Context, entryID string) (*LedgerEntry, error) {
	entry, err := uc.repo.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, billingErrors.ErrEntryNotFound(entryID)
	}
	return entry, nil
}

// ListEntries 获取流水列表
func (uc *LedgerUseCase) ListEntries(ctx context.Context, uid string, page, pageSize int) ([]*LedgerEntry, int64, error) {
	return uc.repo.ListEntries(ctx, uid, page, pageSize)
}

func (uc *LedgerUseCase) observeLedgerOp(entryType string, startTime time.Time, err error) {
	if uc.metrics == nil {
		return
	}
	result := constants.JobResultSuccess
	if err != nil {
		result = constants.JobResultFailed
	}
	uc.metrics.LedgerOpTotal.WithLabelValues(entryType, result).Inc()
	uc.metrics.LedgerOpDuration.WithLabelValues(entryType).Observe(time.Since(startTime).Seconds())
}
