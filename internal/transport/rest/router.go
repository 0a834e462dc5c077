package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/qrpay/internal/auth"
	"github.com/frahmantamala/qrpay/internal/metrics"
	"github.com/frahmantamala/qrpay/internal/monitor"
	"github.com/frahmantamala/qrpay/internal/notify"
	"github.com/frahmantamala/qrpay/internal/order"
	"github.com/frahmantamala/qrpay/internal/qrcode"
	"github.com/frahmantamala/qrpay/internal/setting"
	"github.com/frahmantamala/qrpay/internal/transport/middleware"
	"github.com/frahmantamala/qrpay/internal/transport/swagger"
	"github.com/go-chi/chi"
)

type Handlers struct {
	Health  *HealthHandler
	Auth    *auth.Handler
	Order   *order.Handler
	Monitor *monitor.Handler
	Setting *setting.Handler
	QRCode  *qrcode.Handler
	Notify  *notify.Handler
	Metrics *metrics.Metrics
	// MetricsPath mounts the Prometheus scrape endpoint when set.
	MetricsPath string
	// OpenAPI serves the API document when set.
	OpenAPI        http.Handler
	AllowedOrigins []string
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, logger *slog.Logger) {
	router.Use(middleware.CORS(h.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	if h.Metrics != nil {
		router.Use(middleware.Metrics(h.Metrics))
	}
	router.Use(middleware.LoggingMiddleware(logger))

	if h.OpenAPI != nil {
		router.Handle("/openapi.yml", h.OpenAPI)
		router.Handle("/swagger/*", swagger.Handler())
	}
	if h.MetricsPath != "" && h.Metrics != nil {
		router.Handle(h.MetricsPath, h.Metrics.Handler())
	}

	registerLegacyRoutes(router, h)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health.Health)
		r.Get("/ping", h.Health.Ping)

		r.Route("/orders", func(or chi.Router) {
			or.Post("/", h.Order.CreateOrder)
			or.Get("/{orderId}", h.Order.GetOrder)
			or.Get("/{orderId}/check", h.Order.CheckOrder)
			or.Post("/{orderId}/close", h.Order.CloseOrder)
		})

		r.Route("/monitor", func(mr chi.Router) {
			mr.Get("/heartbeat", h.Monitor.Heartbeat)
			mr.Post("/heartbeat", h.Monitor.Heartbeat)
			mr.Get("/push", h.Monitor.Push)
			mr.Post("/push", h.Monitor.Push)
		})

		r.Route("/auth", func(ar chi.Router) {
			ar.Post("/login", h.Auth.Login)
			ar.Post("/refresh", h.Auth.RefreshToken)
			ar.With(h.Auth.AuthMiddleware).Get("/me", h.Auth.Me)
		})

		r.Route("/admin", func(ad chi.Router) {
			ad.Use(h.Auth.AuthMiddleware)
			registerAdminRoutes(ad, h, logger)
		})
	})
}

func registerAdminRoutes(r chi.Router, h Handlers, logger *slog.Logger) {
	require := func(perm string) func(http.Handler) http.Handler {
		return middleware.RequirePermissions(logger, perm)
	}

	r.Group(func(vr chi.Router) {
		vr.Use(require(auth.PermViewOrders))
		vr.Get("/orders", h.Order.ListOrders)
		vr.Get("/orders/{orderId}", h.Order.GetOrderDetail)
		vr.Get("/orders/{orderId}/notifications", h.Notify.ListLogs)
		vr.Get("/stats", h.Order.GetStats)
	})

	r.Group(func(mr chi.Router) {
		mr.Use(require(auth.PermManageOrders))
		mr.Post("/orders/expired", h.Order.ExpireOverdue)
		mr.Post("/orders/{orderId}/close", h.Order.AdminCloseOrder)
		mr.Post("/orders/{orderId}/reissue", h.Order.ReissueOrder)
		mr.Get("/orders/{orderId}/return-url", h.Order.GetReturnURL)
	})

	r.Group(func(dr chi.Router) {
		dr.Use(require(auth.PermDeleteOrders))
		dr.Delete("/orders/last", h.Order.PurgeOrders)
		dr.Delete("/orders/{orderId}", h.Order.DeleteOrder)
	})

	r.With(require(auth.PermViewMonitor)).Get("/monitor", h.Setting.GetMonitor)

	r.Group(func(sr chi.Router) {
		sr.Use(require(auth.PermManageSettings))
		sr.Get("/settings", h.Setting.GetSettings)
		sr.Put("/settings", h.Setting.UpdateSettings)
	})

	r.Group(func(qr chi.Router) {
		qr.Use(require(auth.PermManageQRCodes))
		qr.Get("/qrcodes", h.QRCode.ListQRCodes)
		qr.Post("/qrcodes", h.QRCode.AddQRCode)
		qr.Delete("/qrcodes/{id}", h.QRCode.DeleteQRCode)
	})
}

// registerLegacyRoutes keeps the paths old merchant integrations and monitor
// apps call. Order ids travel as the orderId query or form parameter.
func registerLegacyRoutes(r chi.Router, h Handlers) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		r.MethodFunc(method, "/createOrder", h.Order.CreateOrder)
		r.MethodFunc(method, "/getOrder", h.Order.GetOrder)
		r.MethodFunc(method, "/checkOrder", h.Order.CheckOrder)
		r.MethodFunc(method, "/closeOrder", h.Order.CloseOrder)
		r.MethodFunc(method, "/appHeart", h.Monitor.Heartbeat)
		r.MethodFunc(method, "/appPush", h.Monitor.Push)
	}
}
