package biz

import (
	"context"
	"testing"
	"time"

	"billing-engine/internal/constants"
	billingErrors "billing-engine/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeCoupon() *Coupon {
	return &Coupon{
		Code:           "TEST",
		Type:           constants.CouponTypeCreditTopUp,
		Status:         constants.CouponStatusActive,
		CreditAmount:   100,
		MaxUses:        10,
		MaxUsesPerUser: 1,
		ValidFrom:      time.Now().Add(-time.Hour),
	}
}

func TestEligible_ChecksInOrder(t *testing.T) {
	now := time.Now()

	t.Run("inactive status", func(t *testing.T) {
		c := activeCoupon()
		c.Status = constants.CouponStatusDisabled
		err := c.Eligible(now, "u1", 0, "")
		assert.True(t, billingErrors.IsCouponNotEligible(err))
	})

	t.Run("not yet valid", func(t *testing.T) {
		c := activeCoupon()
		c.ValidFrom = now.Add(time.Hour)
		err := c.Eligible(now, "u1", 0, "")
		assert.True(t, billingErrors.IsCouponNotEligible(err))
	})

	t.Run("expired", func(t *testing.T) {
		c := activeCoupon()
		past := now.Add(-time.Minute)
		c.ValidUntil = &past
		err := c.Eligible(now, "u1", 0, "")
		assert.True(t, billingErrors.IsCouponNotEligible(err))
	})

	t.Run("global cap reached", func(t *testing.T) {
		c := activeCoupon()
		c.UsedCount = c.MaxUses
		err := c.Eligible(now, "u1", 0, "")
		assert.True(t, billingErrors.IsCouponNotEligible(err))
	})

	t.Run("per-user cap reached", func(t *testing.T) {
		c := activeCoupon()
		err := c.Eligible(now, "u1", 1, "")
		assert.True(t, billingErrors.IsAlreadyRedeemed(err))
	})

	t.Run("wrong service scope", func(t *testing.T) {
		c := activeCoupon()
		c.ServiceName = "gpu"
		err := c.Eligible(now, "u1", 0, "vm")
		assert.True(t, billingErrors.IsCouponNotEligible(err))
		// 不指定目标服务时范围限定不生效
		assert.NoError(t, c.Eligible(now, "u1", 0, ""))
	})

	t.Run("all checks pass", func(t *testing.T) {
		assert.NoError(t, activeCoupon().Eligible(now, "u1", 0, ""))
	})
}

func TestCouponValue(t *testing.T) {
	cases := []struct {
		name      string
		coupon    Coupon
		reference int64
		want      int64
	}{
		{"credit topup", Coupon{Type: constants.CouponTypeCreditTopUp, CreditAmount: 500}, 0, 500},
		{"welcome bonus", Coupon{Type: constants.CouponTypeWelcomeBonus, CreditAmount: 2000}, 0, 2000},
		{"discount fixed", Coupon{Type: constants.CouponTypeSubscriptionDiscount, DiscountAmount: 300}, 50000, 300},
		{"discount percent", Coupon{Type: constants.CouponTypeSubscriptionDiscount, DiscountPercent: 20}, 50000, 10000},
		{"discount fixed wins over percent", Coupon{Type: constants.CouponTypeSubscriptionDiscount, DiscountAmount: 300, DiscountPercent: 20}, 50000, 300},
		{"discount without reference", Coupon{Type: constants.CouponTypeSubscriptionDiscount, DiscountPercent: 20}, 0, 0},
		{"free service", Coupon{Type: constants.CouponTypeFreeService}, 50000, 50000},
		{"unknown type", Coupon{Type: "mystery"}, 50000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.coupon.Value(tc.reference))
		})
	}
}

func TestCreateCoupon_Validation(t *testing.T) {
	repo := newFakeCouponRepo()
	uc := NewCouponUseCase(repo, testLogger())
	ctx := context.Background()

	err := uc.CreateCoupon(ctx, &Coupon{Type: constants.CouponTypeCreditTopUp, CreditAmount: 100})
	assert.Error(t, err) // code 缺失

	err = uc.CreateCoupon(ctx, &Coupon{Code: "X", Type: constants.CouponTypeCreditTopUp})
	assert.Error(t, err) // credit_amount 缺失

	err = uc.CreateCoupon(ctx, &Coupon{Code: "X", Type: constants.CouponTypeSubscriptionDiscount, DiscountPercent: 150})
	assert.Error(t, err) // 折扣超出区间

	err = uc.CreateCoupon(ctx, &Coupon{Code: "X", Type: "mystery"})
	assert.Error(t, err)

	coupon := &Coupon{Code: "OK", Type: constants.CouponTypeCreditTopUp, CreditAmount: 100}
	require.NoError(t, uc.CreateCoupon(ctx, coupon))
	assert.Equal(t, constants.CouponStatusActive, coupon.Status)
}

func TestValidate(t *testing.T) {
	repo := newFakeCouponRepo()
	uc := NewCouponUseCase(repo, testLogger())
	ctx := context.Background()

	require.NoError(t, uc.CreateCoupon(ctx, &Coupon{
		Code:            "PCT10",
		Type:            constants.CouponTypeSubscriptionDiscount,
		DiscountPercent: 10,
		MaxUses:         5,
		MaxUsesPerUser:  1,
		ValidFrom:       time.Now().Add(-time.Hour),
	}))

	v, err := uc.Validate(ctx, "PCT10", "u1", 50000)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, int64(5000), v.PotentialValue)

	// 资格不符返回 Valid=false 而非错误
	repo.coupons["PCT10"].Status = constants.CouponStatusDisabled
	v, err = uc.Validate(ctx, "PCT10", "u1", 50000)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.NotEmpty(t, v.Reason)

	// 券不存在是错误
	_, err = uc.Validate(ctx, "MISSING", "u1", 0)
	require.Error(t, err)
	assert.True(t, billingErrors.IsNotFound(err))
}
