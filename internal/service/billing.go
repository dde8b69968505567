package service

import (
	"context"
	"time"

	"billing-engine/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// BillingService 面向用户的计费服务
type BillingService struct {
	accountUC *biz.AccountUseCase
	ledgerUC  *biz.LedgerUseCase
	quotaUC   *biz.QuotaUseCase
	couponUC  *biz.CouponUseCase
	subUC     *biz.SubscriptionUseCase
	log       *log.Helper
}

// NewBillingService 创建 BillingService
func NewBillingService(
	accountUC *biz.AccountUseCase,
	ledgerUC *biz.LedgerUseCase,
	quotaUC *biz.QuotaUseCase,
	couponUC *biz.CouponUseCase,
	subUC *biz.SubscriptionUseCase,
	logger log.Logger,
) *BillingService {
	return &BillingService{
		accountUC: accountUC,
		ledgerUC:  ledgerUC,
		quotaUC:   quotaUC,
		couponUC:  couponUC,
		subUC:     subUC,
		log:       log.NewHelper(logger),
	}
}

// AccountView 账户视图
type AccountView struct {
	UID        string `json:"uid"`
	Balance    int64  `json:"balance"`
	TotalTopUp int64  `json:"total_top_up"`
	TotalSpent int64  `json:"total_spent"`
}

// LedgerEntryView 流水视图
type LedgerEntryView struct {
	ID            string            `json:"id"`
	UID           string            `json:"uid"`
	Type          string            `json:"type"`
	Amount        int64             `json:"amount"`
	BalanceBefore int64             `json:"balance_before"`
	BalanceAfter  int64             `json:"balance_after"`
	Status        string            `json:"status"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// SubscriptionView 订阅视图
type SubscriptionView struct {
	ID             string     `json:"id"`
	UID            string     `json:"uid"`
	PlanID         string     `json:"plan_id"`
	Status         string     `json:"status"`
	AutoRenew      bool       `json:"auto_renew"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	NextBilling    time.Time  `json:"next_billing"`
	FailedCharges  int        `json:"failed_charges"`
	GracePeriodEnd *time.Time `json:"grace_period_end,omitempty"`
}

func toAccountView(a *biz.Account) *AccountView {
	return &AccountView{
		UID:        a.UID,
		Balance:    a.Balance,
		TotalTopUp: a.TotalTopUp,
		TotalSpent: a.TotalSpent,
	}
}

func toEntryView(e *biz.LedgerEntry) *LedgerEntryView {
	return &LedgerEntryView{
		ID:            e.ID,
		UID:           e.UID,
		Type:          e.Type,
		Amount:        e.Amount,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		Status:        e.Status,
		Description:   e.Description,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt,
		CompletedAt:   e.CompletedAt,
	}
}

func toSubscriptionView(s *biz.Subscription) *SubscriptionView {
	return &SubscriptionView{
		ID:             s.ID,
		UID:            s.UID,
		PlanID:         s.PlanID,
		Status:         s.Status,
		AutoRenew:      s.AutoRenew,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		NextBilling:    s.NextBilling,
		FailedCharges:  s.FailedCharges,
		GracePeriodEnd: s.GracePeriodEnd,
	}
}

// ========== 账户 ==========

// CreateAccountRequest 开户请求
type CreateAccountRequest struct {
	UID string `json:"uid"`
}

// WelcomeBonusView 开户礼发放结果视图
type WelcomeBonusView struct {
	CouponCode string `json:"coupon_code"`
	Granted    int64  `json:"granted"`
	Error      string `json:"error,omitempty"`
}

// CreateAccountReply 开户响应
type CreateAccountReply struct {
	Account        *AccountView        `json:"account"`
	WelcomeBonuses []*WelcomeBonusView `json:"welcome_bonuses,omitempty"`
}

// CreateAccount 开户（幂等：重复开户返回既有账户）
func (s *BillingService) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*CreateAccountReply, error) {
	_, bonuses, err := s.accountUC.CreateAccount(ctx, req.UID)
	if err != nil {
		s.log.Errorf("CreateAccount failed: %v", err)
		return nil, err
	}
	// 礼券入账后重新读取余额
	account, err := s.accountUC.GetAccount(ctx, req.UID)
	if err != nil {
		return nil, err
	}
	reply := &CreateAccountReply{Account: toAccountView(account)}
	for _, b := range bonuses {
		view := &WelcomeBonusView{CouponCode: b.CouponCode, Granted: b.Granted}
		if b.Err != nil {
			view.Error = b.Err.Error()
		}
		reply.WelcomeBonuses = append(reply.WelcomeBonuses, view)
	}
	return reply, nil
}

// GetAccountReply 账户查询响应
type GetAccountReply struct {
	Account *AccountView `json:"account"`
}

// GetAccount 获取账户信息
func (s *BillingService) GetAccount(ctx context.Context, uid string) (*GetAccountReply, error) {
	account, err := s.accountUC.GetAccount(ctx, uid)
	if err != nil {
		return nil, err
	}
	return &GetAccountReply{Account: toAccountView(account)}, nil
}

// ========== 充值 ==========

// CreateTopUpRequest 发起充值请求
type CreateTopUpRequest struct {
	UID         string            `json:"uid"`
	Amount      int64             `json:"amount"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CreateTopUpReply 发起充值响应
type CreateTopUpReply struct {
	Entry *LedgerEntryView `json:"entry"`
}

// CreateTopUp 发起网关充值，返回待结算流水
func (s *BillingService) CreateTopUp(ctx context.Context, req *CreateTopUpRequest) (*CreateTopUpReply, error) {
	entry, err := s.ledgerUC.CreateTopUp(ctx, req.UID, req.Amount, req.Description, req.Metadata)
	if err != nil {
		s.log.Errorf("CreateTopUp failed: %v", err)
		return nil, err
	}
	return &CreateTopUpReply{Entry: toEntryView(entry)}, nil
}

// GetTopUpStatusReply 充值状态查询响应
type GetTopUpStatusReply struct {
	Entry *LedgerEntryView `json:"entry"`
}

// GetTopUpStatus 查询充值流水状态
func (s *BillingService) GetTopUpStatus(ctx context.Context, entryID string) (*GetTopUpStatusReply, error) {
	entry, err := s.ledgerUC.GetTopUpStatus(ctx, entryID)
	if err != nil {
		return nil, err
	}
	return &GetTopUpStatusReply{Entry: toEntryView(entry)}, nil
}

// CancelTopUpRequest 取消充值请求
type CancelTopUpRequest struct {
	UID     string `json:"uid"`
	EntryID string `json:"entry_id"`
}

// CancelTopUp 取消未结算充值
func (s *BillingService) CancelTopUp(ctx context.Context, req *CancelTopUpRequest) error {
	return s.ledgerUC.CancelTopUp(ctx, req.EntryID, req.UID)
}

// ========== 流水 ==========

// ListEntriesReply 流水列表响应
type ListEntriesReply struct {
	Entries  []*LedgerEntryView `json:"entries"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
}

// ListEntries 分页查询用户流水
func (s *BillingService) ListEntries(ctx context.Context, uid string, page, pageSize int) (*ListEntriesReply, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	entries, total, err := s.ledgerUC.ListEntries(ctx, uid, page, pageSize)
	if err != nil {
		return nil, err
	}
	reply := &ListEntriesReply{
		Entries:  make([]*LedgerEntryView, 0, len(entries)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for _, e := range entries {
		reply.Entries = append(reply.Entries, toEntryView(e))
	}
	return reply, nil
}

// ========== 优惠券 ==========

// ValidateCouponRequest 优惠券预检请求
type ValidateCouponRequest struct {
	UID             string `json:"uid"`
	Code            string `json:"code"`
	ReferenceAmount int64  `json:"reference_amount,omitempty"`
}

// ValidateCouponReply 优惠券预检响应
type ValidateCouponReply struct {
	Valid          bool   `json:"valid"`
	Reason         string `json:"reason,omitempty"`
	CouponType     string `json:"coupon_type"`
	PotentialValue int64  `json:"potential_value"`
}

// ValidateCoupon 优惠券可用性预检（只读，不构成兑换承诺）
func (s *BillingService) ValidateCoupon(ctx context.Context, req *ValidateCouponRequest) (*ValidateCouponReply, error) {
	v, err := s.couponUC.Validate(ctx, req.Code, req.UID, req.ReferenceAmount)
	if err != nil {
		return nil, err
	}
	return &ValidateCouponReply{
		Valid:          v.Valid,
		Reason:         v.Reason,
		CouponType:     v.CouponType,
		PotentialValue: v.PotentialValue,
	}, nil
}

// RedeemCouponRequest 优惠券兑换请求
type RedeemCouponRequest struct {
	UID             string `json:"uid"`
	Code            string `json:"code"`
	ReferenceAmount int64  `json:"reference_amount,omitempty"`
}

// RedemptionView 核销记录视图
type RedemptionView struct {
	ID             string    `json:"id"`
	CouponCode     string    `json:"coupon_code"`
	Value          int64     `json:"value"`
	LedgerEntryID  string    `json:"ledger_entry_id,omitempty"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toRedemptionView(r *biz.CouponRedemption) *RedemptionView {
	view := &RedemptionView{
		ID:         r.ID,
		CouponCode: r.CouponCode,
		Value:      r.Value,
		CreatedAt:  r.CreatedAt,
	}
	if r.LedgerEntryID != nil {
		view.LedgerEntryID = *r.LedgerEntryID
	}
	if r.SubscriptionID != nil {
		view.SubscriptionID = *r.SubscriptionID
	}
	return view
}

// RedeemCouponReply 优惠券兑换响应
type RedeemCouponReply struct {
	Redemption *RedemptionView `json:"redemption"`
}

// RedeemCoupon 兑换优惠券
func (s *BillingService) RedeemCoupon(ctx context.Context, req *RedeemCouponRequest) (*RedeemCouponReply, error) {
	redemption, err := s.couponUC.Redeem(ctx, req.Code, req.UID, req.ReferenceAmount)
	if err != nil {
		s.log.Errorf("RedeemCoupon failed: code=%s, uid=%s, error=%v", req.Code, req.UID, err)
		return nil, err
	}
	return &RedeemCouponReply{Redemption: toRedemptionView(redemption)}, nil
}

// ListRedemptionsReply 核销历史响应
type ListRedemptionsReply struct {
	Redemptions []*RedemptionView `json:"redemptions"`
	Total       int64             `json:"total"`
}

// ListRedemptions 查询用户核销历史
func (s *BillingService) ListRedemptions(ctx context.Context, uid string, page, pageSize int) (*ListRedemptionsReply, error) {
	redemptions, total, err := s.couponUC.ListRedemptions(ctx, uid, page, pageSize)
	if err != nil {
		return nil, err
	}
	reply := &ListRedemptionsReply{
		Redemptions: make([]*RedemptionView, 0, len(redemptions)),
		Total:       total,
	}
	for _, r := range redemptions {
		reply.Redemptions = append(reply.Redemptions, toRedemptionView(r))
	}
	return reply, nil
}

// ========== 订阅 ==========

// PurchaseRequest 购买订阅请求
type PurchaseRequest struct {
	UID        string `json:"uid"`
	PlanID     string `json:"plan_id"`
	CouponCode string `json:"coupon_code,omitempty"`
	AutoRenew  *bool  `json:"auto_renew,omitempty"` // 缺省 true
}

// PurchaseReply 购买订阅响应
type PurchaseReply struct {
	Subscription *SubscriptionView `json:"subscription"`
}

// Purchase 购买订阅
func (s *BillingService) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseReply, error) {
	autoRenew := true
	if req.AutoRenew != nil {
		autoRenew = *req.AutoRenew
	}
	sub, err := s.subUC.Purchase(ctx, req.UID, req.PlanID, req.CouponCode, autoRenew)
	if err != nil {
		s.log.Errorf("Purchase failed: uid=%s, plan_id=%s, error=%v", req.UID, req.PlanID, err)
		return nil, err
	}
	return &PurchaseReply{Subscription: toSubscriptionView(sub)}, nil
}

// GetSubscriptionReply 订阅查询响应
type GetSubscriptionReply struct {
	Subscription *SubscriptionView `json:"subscription"`
}

// GetSubscription 获取订阅
func (s *BillingService) GetSubscription(ctx context.Context, subscriptionID string) (*GetSubscriptionReply, error) {
	sub, err := s.subUC.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return &GetSubscriptionReply{Subscription: toSubscriptionView(sub)}, nil
}

// ListSubscriptionsReply 用户订阅列表响应
type ListSubscriptionsReply struct {
	Subscriptions []*SubscriptionView `json:"subscriptions"`
}

// ListSubscriptions 查询用户订阅列表
func (s *BillingService) ListSubscriptions(ctx context.Context, uid string) (*ListSubscriptionsReply, error) {
	subs, err := s.subUC.ListByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	reply := &ListSubscriptionsReply{Subscriptions: make([]*SubscriptionView, 0, len(subs))}
	for _, sub := range subs {
		reply.Subscriptions = append(reply.Subscriptions, toSubscriptionView(sub))
	}
	return reply, nil
}

// CancelSubscriptionRequest 取消订阅请求
type CancelSubscriptionRequest struct {
	UID            string `json:"uid"`
	SubscriptionID string `json:"subscription_id"`
}

// CancelSubscriptionReply 取消订阅响应
type CancelSubscriptionReply struct {
	Subscription *SubscriptionView `json:"subscription"`
}

// CancelSubscription 取消订阅
func (s *BillingService) CancelSubscription(ctx context.Context, req *CancelSubscriptionRequest) (*CancelSubscriptionReply, error) {
	sub, err := s.subUC.Cancel(ctx, req.SubscriptionID, req.UID)
	if err != nil {
		return nil, err
	}
	return &CancelSubscriptionReply{Subscription: toSubscriptionView(sub)}, nil
}

// SetAutoRenewRequest 自动续费开关请求
type SetAutoRenewRequest struct {
	UID            string `json:"uid"`
	SubscriptionID string `json:"subscription_id"`
	AutoRenew      bool   `json:"auto_renew"`
}

// SetAutoRenew 开关自动续费
func (s *BillingService) SetAutoRenew(ctx context.Context, req *SetAutoRenewRequest) error {
	return s.subUC.SetAutoRenew(ctx, req.SubscriptionID, req.UID, req.AutoRenew)
}

// ========== 套餐 ==========

// PlanView 套餐视图
type PlanView struct {
	ID           string `json:"id"`
	ServiceName  string `json:"service_name"`
	Name         string `json:"name"`
	MonthlyPrice int64  `json:"monthly_price"`
	TotalQuota   int64  `json:"total_quota"`
	UsedQuota    int64  `json:"used_quota"`
}

func toPlanView(p *biz.Plan) *PlanView {
	return &PlanView{
		ID:           p.ID,
		ServiceName:  p.ServiceName,
		Name:         p.Name,
		MonthlyPrice: p.MonthlyPrice,
		TotalQuota:   p.TotalQuota,
		UsedQuota:    p.UsedQuota,
	}
}

// GetPlanReply 套餐查询响应
type GetPlanReply struct {
	Plan *PlanView `json:"plan"`
}

// GetPlan 获取套餐
func (s *BillingService) GetPlan(ctx context.Context, planID string) (*GetPlanReply, error) {
	plan, err := s.quotaUC.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	return &GetPlanReply{Plan: toPlanView(plan)}, nil
}

// CheckQuotaReply 容量查询响应
type CheckQuotaReply struct {
	PlanID    string `json:"plan_id"`
	Available bool   `json:"available"`
	Remaining int64  `json:"remaining"`
}

// CheckQuota 查询套餐容量余量
func (s *BillingService) CheckQuota(ctx context.Context, planID string, requested int64) (*CheckQuotaReply, error) {
	availability, err := s.quotaUC.CheckAvailability(ctx, planID, requested)
	if err != nil {
		return nil, err
	}
	return &CheckQuotaReply{
		PlanID:    availability.PlanID,
		Available: availability.Available,
		Remaining: availability.Remaining,
	}, nil
}
