package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"payorch/cmd/fx/adapter_fx"
	"payorch/cmd/fx/config_fx"
	"payorch/cmd/fx/controllers_fx"
	"payorch/cmd/fx/db_fx"
	"payorch/cmd/fx/idempotency_fx"
	"payorch/cmd/fx/maintenance_fx"
	"payorch/cmd/fx/notifier_fx"
	"payorch/cmd/fx/payment_service_fx"
	"payorch/cmd/fx/polling_fx"
	"payorch/cmd/fx/repository_fx"
	"payorch/cmd/fx/webhook_fx"
	"payorch/internal/api/controllers"
	"payorch/internal/infra"
	"payorch/pkg/middleware"
	"payorch/pkg/utils"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		config_fx.Module,
		db_fx.Module,
		repository_fx.Module,
		adapter_fx.Module,
		idempotency_fx.Module,
		notifier_fx.Module,
		payment_service_fx.Module,
		webhook_fx.Module,
		polling_fx.Module,
		maintenance_fx.Module,
		controllers_fx.Module,

		fx.Provide(ProvideRouter),
		fx.Invoke(StartServer),
	)

	app.Run()
}

func StartServer(lc fx.Lifecycle, engine *gin.Engine, cfg *infra.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("starting HTTP server", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("HTTP server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping HTTP server")
			return srv.Shutdown(ctx)
		},
	})
}

type RouterParams struct {
	fx.In

	Config      *infra.Config
	Log         *zap.Logger
	Issuer      *utils.TokenIssuer
	RateLimiter *middleware.IPRateLimiter
	Payments    *controllers.PaymentController
	Webhooks    *controllers.WebhookController
	Operations  *controllers.OperationsController
}

func ProvideRouter(p RouterParams) *gin.Engine {
	if p.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.TraceIDMiddleware())
	r.Use(middleware.RequestLogger(p.Log))

	RegisterRoutes(r, p)

	return r
}

func RegisterRoutes(r *gin.Engine, p RouterParams) {
	r.GET("/health", p.Operations.Health)

	webhookGroup := r.Group("/webhook")
	webhookGroup.Use(middleware.RateLimitMiddleware(p.RateLimiter))
	webhookGroup.POST("", p.Webhooks.HandleWebhook)
	webhookGroup.POST("/:provider", p.Webhooks.HandleWebhook)

	paymentsGroup := r.Group("/payments")
	paymentsGroup.Use(middleware.JWTAuthMiddleware(p.Issuer))
	paymentsGroup.POST("/create", p.Payments.CreatePayment)
	paymentsGroup.POST("/refunds", p.Payments.RefundPayment)
	paymentsGroup.POST("/cancel", p.Payments.CancelPayment)
	paymentsGroup.GET("/status/:paymentId", p.Payments.GetStatus)
	paymentsGroup.GET("/records/:paymentId", p.Payments.GetPayment)
	paymentsGroup.GET("/records/:paymentId/events", p.Payments.ListEvents)
	paymentsGroup.GET("/providers/health", p.Payments.ProviderHealth)
	paymentsGroup.GET("/polling-jobs", p.Operations.ListPollingJobs)
	paymentsGroup.GET("/idempotency", p.Operations.CheckIdempotencyKey)
	paymentsGroup.DELETE("/idempotency", middleware.RoleMiddleware("admin"), p.Operations.InvalidateIdempotencyKey)
}
