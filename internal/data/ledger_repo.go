package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"billing-engine/internal/biz"
	"billing-engine/internal/constants"
	"billing-engine/internal/data/model"
	billingErrors "billing-engine/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ledgerRepo 账本数据访问
type ledgerRepo struct {
	data *Data
	log  *log.Helper
}

// NewLedgerRepo 创建账本 repo（返回 biz.LedgerRepo 接口）
func NewLedgerRepo(data *Data, logger log.Logger) biz.LedgerRepo {
	return &ledgerRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// errDuplicateSettlement 同一 gateway_ref 已结算过其他流水，
// 整个结算事务回滚后按重复事件处理
var errDuplicateSettlement = errors.New("duplicate settlement reference")

// isDuplicateKey 唯一索引冲突判定（MySQL 1062 / SQLite UNIQUE）
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

// CreateAccount 创建账户，uid 已存在时视为成功（开户幂等）
func (r *ledgerRepo) CreateAccount(ctx context.Context, account *biz.Account) error {
	m := model.Account{
		AccountID:  uuid.New().String(),
		UID:        account.UID,
		Balance:    account.Balance,
		TotalTopUp: account.TotalTopUp,
		TotalSpent: account.TotalSpent,
	}
	if err := r.data.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return err
	}
	return nil
}

// GetAccount 获取账户，不存在时返回 (nil, nil)
func (r *ledgerRepo) GetAccount(ctx context.Context, uid string) (*biz.Account, error) {
	var m model.Account
	if err := r.data.db.WithContext(ctx).Where("uid = ?", uid).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorf("GetAccount failed: uid=%s, error=%v", uid, err)
		return nil, err
	}
	r.updateBalanceCache(m.UID, m.Balance)
	return toBizAccount(&m), nil
}

// AddCredit 入账：锁账户行，余额增加并在同一事务写入流水。
// 账户不存在时返回 AccountNotFound，开户走 CreateAccount；
// top_up 类型同时累加 total_top_up
func (r *ledgerRepo) AddCredit(ctx context.Context, uid string, amount int64, entryType, description string, metadata map[string]string) (*biz.LedgerEntry, error) {
	var entry *biz.LedgerEntry
	var newBalance int64
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := lockAccount(tx, uid, false)
		if err != nil {
			return err
		}
		if account == nil {
			return billingErrors.ErrAccountNotFound(uid)
		}

		updates := map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
		}
		if entryType == constants.EntryTypeTopUp {
			updates["total_top_up"] = gorm.Expr("total_top_up + ?", amount)
		}
		if err := tx.Model(account).Updates(updates).Error; err != nil {
			return err
		}

		newBalance = account.Balance + amount
		m, err := insertEntry(tx, &biz.LedgerEntry{
			UID:           uid,
			Type:          entryType,
			Amount:        amount,
			BalanceBefore: account.Balance,
			BalanceAfter:  newBalance,
			Status:        constants.EntryStatusCompleted,
			Description:   description,
			Metadata:      metadata,
		})
		if err != nil {
			return err
		}
		entry = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.updateBalanceCache(uid, newBalance)
	return entry, nil
}

// DeductCredit 扣款：锁账户行校验余额后扣减，同一事务写入流水。
// allowNegative 为 false 且余额不足时返回 InsufficientCredit，不产生任何写入
func (r *ledgerRepo) DeductCredit(ctx context.Context, uid string, amount int64, entryType, description string, metadata map[string]string, allowNegative bool) (*biz.LedgerEntry, error) {
	var entry *biz.LedgerEntry
	var newBalance int64
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := lockAccount(tx, uid, false)
		if err != nil {
			return err
		}
		if account == nil {
			return billingErrors.ErrAccountNotFound(uid)
		}
		if !allowNegative && account.Balance < amount {
			return billingErrors.ErrInsufficientCredit(uid, account.Balance, amount)
		}

		updates := map[string]interface{}{
			"balance":     gorm.Expr("balance - ?", amount),
			"total_spent": gorm.Expr("total_spent + ?", amount),
		}
		if err := tx.Model(account).Updates(updates).Error; err != nil {
			return err
		}

		newBalance = account.Balance - amount
		m, err := insertEntry(tx, &biz.LedgerEntry{
			UID:           uid,
			Type:          entryType,
			Amount:        amount,
			BalanceBefore: account.Balance,
			BalanceAfter:  newBalance,
			Status:        constants.EntryStatusCompleted,
			Description:   description,
			Metadata:      metadata,
		})
		if err != nil {
			return err
		}
		entry = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.updateBalanceCache(uid, newBalance)
	return entry, nil
}

// CreatePendingTopUp 创建待结算充值流水，结算前不触碰账户余额
func (r *ledgerRepo) CreatePendingTopUp(ctx context.Context, uid string, amount int64, description string, metadata map[string]string) (*biz.LedgerEntry, error) {
	var entry *biz.LedgerEntry
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := insertEntry(tx, &biz.LedgerEntry{
			UID:         uid,
			Type:        constants.EntryTypeTopUp,
			Amount:      amount,
			Status:      constants.EntryStatusPending,
			Description: description,
			Metadata:    metadata,
		})
		if err != nil {
			return err
		}
		entry = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// FinalizeTopUp 结算待结算充值。锁流水行判定状态：
// 非 pending 返回 (nil, nil) 表示迟到/重复事件；success 时在同一事务内
// 锁账户行入账。gateway_ref 唯一索引冲突同样按重复事件处理
func (r *ledgerRepo) FinalizeTopUp(ctx context.Context, entryID, outcome, gatewayRef string) (*biz.LedgerEntry, error) {
	var entry *biz.LedgerEntry
	var newBalance int64
	var balanceChanged bool
	var uid string

	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.LedgerEntry
		err := withRowLock(tx).
			Where("ledger_entry_id = ?", entryID).First(&m).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return billingErrors.ErrEntryNotFound(entryID)
			}
			return err
		}
		if m.Status != constants.EntryStatusPending {
			// 已终结，迟到事件
			return nil
		}

		now := time.Now()
		updates := map[string]interface{}{
			"completed_at": &now,
		}
		if gatewayRef != "" {
			updates["gateway_ref"] = gatewayRef
		}

		var account *model.Account
		if outcome == constants.SettlementOutcomeSuccess {
			account, err = lockAccount(tx, m.UID, true)
			if err != nil {
				return err
			}
			newBalance = account.Balance + m.Amount
			updates["status"] = constants.EntryStatusCompleted
			updates["balance_before"] = account.Balance
			updates["balance_after"] = newBalance
		} else {
			updates["status"] = constants.EntryStatusFailed
		}

		// 先终结流水再动余额：gateway_ref 冲突让整个事务回滚，
		// 流水保持 pending 且余额分文不动
		if err := tx.Model(&m).Updates(updates).Error; err != nil {
			if isDuplicateKey(err) {
				return errDuplicateSettlement
			}
			return err
		}

		if outcome == constants.SettlementOutcomeSuccess {
			if err := tx.Model(account).Updates(map[string]interface{}{
				"balance":      gorm.Expr("balance + ?", m.Amount),
				"total_top_up": gorm.Expr("total_top_up + ?", m.Amount),
			}).Error; err != nil {
				return err
			}
			balanceChanged = true
			uid = m.UID
		}

		m.Status = updates["status"].(string)
		m.CompletedAt = &now
		if gatewayRef != "" {
			m.GatewayRef = &gatewayRef
		}
		if balanceChanged {
			m.BalanceBefore = newBalance - m.Amount
			m.BalanceAfter = newBalance
		}
		entry = toBizEntry(&m)
		return nil
	})
	if errors.Is(err, errDuplicateSettlement) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if balanceChanged {
		r.updateBalanceCache(uid, newBalance)
	}
	return entry, nil
}

// CancelTopUp 持有人取消未结算充值，已终结的流水不可取消
func (r *ledgerRepo) CancelTopUp(ctx context.Context, entryID, uid string) error {
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.LedgerEntry
		err := withRowLock(tx).
			Where("ledger_entry_id = ? AND uid = ?", entryID, uid).First(&m).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return billingErrors.ErrEntryNotFound(entryID)
			}
			return err
		}
		if m.Status != constants.EntryStatusPending {
			return billingErrors.ErrInvalidArgument("top-up is already settled")
		}
		now := time.Now()
		return tx.Model(&m).Updates(map[string]interface{}{
			"status":       constants.EntryStatusCancelled,
			"completed_at": &now,
		}).Error
	})
}

// GetEntry 按 ID 查询流水，不存在时返回 (nil, nil)
func (r *ledgerRepo) GetEntry(ctx context.Context, entryID string) (*biz.LedgerEntry, error) {
	var m model.LedgerEntry
	if err := r.data.db.WithContext(ctx).Where("ledger_entry_id = ?", entryID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizEntry(&m), nil
}

// ListEntries 按创建时间倒序分页查询用户流水
func (r *ledgerRepo) ListEntries(ctx context.Context, uid string, page, pageSize int) ([]*biz.LedgerEntry, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	var total int64
	query := r.data.db.WithContext(ctx).Model(&model.LedgerEntry{}).Where("uid = ?", uid)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ms []model.LedgerEntry
	if err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&ms).Error; err != nil {
		return nil, 0, err
	}

	entries := make([]*biz.LedgerEntry, 0, len(ms))
	for i := range ms {
		entries = append(entries, toBizEntry(&ms[i]))
	}
	return entries, total, nil
}

// CountPendingTopUps 统计未结算充值流水数量
func (r *ledgerRepo) CountPendingTopUps(ctx context.Context) (int64, error) {
	var count int64
	err := r.data.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Where("type = ? AND status = ?", constants.EntryTypeTopUp, constants.EntryStatusPending).
		Count(&count).Error
	return count, err
}

// updateBalanceCache 写余额缓存，失败只记日志
func (r *ledgerRepo) updateBalanceCache(uid string, balance int64) {
	if r.data.rdb == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	key := fmt.Sprintf("%s%s", constants.RedisKeyBalance, uid)
	if err := r.data.rdb.Set(cacheCtx, key, strconv.FormatInt(balance, 10), 5*time.Minute).Err(); err != nil {
		r.log.Warnf("failed to update balance cache: uid=%s, error=%v", uid, err)
	}
}

// lockAccount 锁账户行（FOR UPDATE）。createIfMissing 时不存在则创建零余额
// 账户并返回，否则返回 (nil, nil)
func lockAccount(tx *gorm.DB, uid string, createIfMissing bool) (*model.Account, error) {
	var m model.Account
	err := withRowLock(tx).
		Where("uid = ?", uid).First(&m).Error
	if err == nil {
		return &m, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if !createIfMissing {
		return nil, nil
	}
	m = model.Account{
		AccountID: uuid.New().String(),
		UID:       uid,
	}
	if err := tx.Create(&m).Error; err != nil {
		if isDuplicateKey(err) {
			// 并发开户，重新加锁读取
			if err := withRowLock(tx).
				Where("uid = ?", uid).First(&m).Error; err != nil {
				return nil, err
			}
			return &m, nil
		}
		return nil, err
	}
	return &m, nil
}

// insertEntry 写入流水，返回领域对象
func insertEntry(tx *gorm.DB, e *biz.LedgerEntry) (*biz.LedgerEntry, error) {
	m := model.LedgerEntry{
		LedgerEntryID: uuid.New().String(),
		UID:           e.UID,
		Type:          e.Type,
		Amount:        e.Amount,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		Status:        e.Status,
		Description:   e.Description,
		Metadata:      marshalMetadata(e.Metadata),
	}
	if e.GatewayRef != "" {
		m.GatewayRef = &e.GatewayRef
	}
	if e.Status == constants.EntryStatusCompleted {
		now := time.Now()
		m.CompletedAt = &now
	}
	if err := tx.Create(&m).Error; err != nil {
		return nil, err
	}
	return toBizEntry(&m), nil
}

func marshalMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalMetadata(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil
	}
	return metadata
}

func toBizAccount(m *model.Account) *biz.Account {
	return &biz.Account{
		UID:        m.UID,
		Balance:    m.Balance,
		TotalTopUp: m.TotalTopUp,
		TotalSpent: m.TotalSpent,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func toBizEntry(m *model.LedgerEntry) *biz.LedgerEntry {
	entry := &biz.LedgerEntry{
		ID:            m.LedgerEntryID,
		UID:           m.UID,
		Type:          m.Type,
		Amount:        m.Amount,
		BalanceBefore: m.BalanceBefore,
		BalanceAfter:  m.BalanceAfter,
		Status:        m.Status,
		Description:   m.Description,
		Metadata:      unmarshalMetadata(m.Metadata),
		CreatedAt:     m.CreatedAt,
		CompletedAt:   m.CompletedAt,
	}
	if m.GatewayRef != nil {
		entry.GatewayRef = *m.GatewayRef
	}
	return entry
}
