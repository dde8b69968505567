package server

import (
	"strconv"
	"time"

	"billing-engine/internal/conf"
	"billing-engine/internal/service"

	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer 创建 HTTP 服务器并注册全部路由
func NewHTTPServer(c *conf.Bootstrap, billing *service.BillingService, admin *service.AdminService) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
	}
	if c.Server != nil && c.Server.Http != nil {
		if c.Server.Http.Network != "" {
			opts = append(opts, http.Network(c.Server.Http.Network))
		}
		if c.Server.Http.Addr != "" {
			opts = append(opts, http.Address(c.Server.Http.Addr))
		}
		if c.Server.Http.TimeoutSeconds > 0 {
			opts = append(opts, http.Timeout(time.Duration(c.Server.Http.TimeoutSeconds)*time.Second))
		}
	}
	srv := http.NewServer(opts...)
	srv.Handle("/metrics", promhttp.Handler())
	registerBillingRoutes(srv, billing)
	registerAdminRoutes(srv, admin)
	return srv
}

func registerBillingRoutes(srv *http.Server, svc *service.BillingService) {
	r := srv.Route("/v1")

	r.POST("/accounts", func(ctx http.Context) error {
		var req service.CreateAccountRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := svc.CreateAccount(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/accounts/{uid}", func(ctx http.Context) error {
		reply, err := svc.GetAccount(ctx, ctx.Vars().Get("uid"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/accounts/{uid}/entries", func(ctx http.Context) error {
		page, pageSize := pagination(ctx)
		reply, err := svc.ListEntries(ctx, ctx.Vars().Get("uid"), page, pageSize)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/topups", func(ctx http.Context) error {
		var req service.CreateTopUpRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := svc.CreateTopUp(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/topups/{entry_id}", func(ctx http.Context) error {
		reply, err := svc.GetTopUpStatus(ctx, ctx.Vars().Get("entry_id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/topups/{entry_id}/cancel", func(ctx http.Context) error {
		var req service.CancelTopUpRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.EntryID = ctx.Vars().Get("entry_id")
		if err := svc.CancelTopUp(ctx, &req); err != nil {
			return err
		}
		return ctx.Result(200, map[string]string{"status": "cancelled"})
	})

	r.POST("/coupons/validate", func(ctx http.Context) error {
		var req service.ValidateCouponRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := svc.ValidateCoupon(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/coupons/redeem", func(ctx http.Context) error {
		var req service.RedeemCouponRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := svc.RedeemCoupon(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/accounts/{uid}/redemptions", func(ctx http.Context) error {
		page, pageSize := pagination(ctx)
		reply, err := svc.ListRedemptions(ctx, ctx.Vars().Get("uid"), page, pageSize)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/subscriptions", func(ctx http.Context) error {
		var req service.PurchaseRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := svc.Purchase(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/subscriptions/{subscription_id}", func(ctx http.Context) error {
		reply, err := svc.GetSubscription(ctx, ctx.Vars().Get("subscription_id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/accounts/{uid}/subscriptions", func(ctx http.Context) error {
		reply, err := svc.ListSubscriptions(ctx, ctx.Vars().Get("uid"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/subscriptions/{subscription_id}/cancel", func(ctx http.Context) error {
		var req service.CancelSubscriptionRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.SubscriptionID = ctx.Vars().Get("subscription_id")
		reply, err := svc.CancelSubscription(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/subscriptions/{subscription_id}/auto-renew", func(ctx http.Context) error {
		var req service.SetAutoRenewRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.SubscriptionID = ctx.Vars().Get("subscription_id")
		if err := svc.SetAutoRenew(ctx, &req); err != nil {
			return err
		}
		return ctx.Result(200, map[string]bool{"auto_renew": req.AutoRenew})
	})

	r.GET("/plans/{plan_id}", func(ctx http.Context) error {
		reply, err := svc.GetPlan(ctx, ctx.Vars().Get("plan_id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/plans/{plan_id}/quota", func(ctx http.Context) error {
		requested, _ := strconv.ParseInt(ctx.Query().Get("requested"), 10, 64)
		reply, err := svc.CheckQuota(ctx, ctx.Vars().Get("plan_id"), requested)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
}

func registerAdminRoutes(srv *http.Server, svc *service.AdminService) {
	r := srv.Route("/admin/v1")

	r.POST("/adjust", func(ctx http.Context) error {
		var req service.AdjustRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := svc.Adjust(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/plans", func(ctx http.Context) error {
		var req service.CreatePlanRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := svc.CreatePlan(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.PUT("/plans/{plan_id}/quota", func(ctx http.Context) error {
		var req service.UpdateQuotaRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.PlanID = ctx.Vars().Get("plan_id")
		if err := svc.UpdateQuota(ctx, &req); err != nil {
			return err
		}
		return ctx.Result(200, map[string]int64{"total_quota": req.TotalQuota})
	})

	r.POST("/plans/bulk-quota", func(ctx http.Context) error {
		var req service.BulkUpdateQuotaRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := svc.BulkUpdateQuota(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/coupons", func(ctx http.Context) error {
		var req service.CreateCouponRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := svc.CreateCoupon(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/coupons/{code}/disable", func(ctx http.Context) error {
		if err := svc.DisableCoupon(ctx, ctx.Vars().Get("code")); err != nil {
			return err
		}
		return ctx.Result(200, map[string]string{"status": "disabled"})
	})

	r.POST("/subscriptions/{subscription_id}/grace-period", func(ctx http.Context) error {
		var req service.SetGracePeriodRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.SubscriptionID = ctx.Vars().Get("subscription_id")
		reply, err := svc.SetGracePeriod(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/subscriptions/{subscription_id}/expire", func(ctx http.Context) error {
		var req service.ExpireSubscriptionRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.SubscriptionID = ctx.Vars().Get("subscription_id")
		reply, err := svc.ExpireSubscription(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/jobs/run", func(ctx http.Context) error {
		var req service.RunJobRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := svc.RunJob(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/jobs/status", func(ctx http.Context) error {
		reply, err := svc.SchedulerStatus(ctx)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/stats", func(ctx http.Context) error {
		reply, err := svc.GetBillingStats(ctx, ctx.Query().Get("date"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
}

func pagination(ctx http.Context) (int, int) {
	page, _ := strconv.Atoi(ctx.Query().Get("page"))
	pageSize, _ := strconv.Atoi(ctx.Query().Get("page_size"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return page, pageSize
}
