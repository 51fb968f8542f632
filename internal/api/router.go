package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter registers every endpoint. The bot and payment workers use the API key;
// the admin portal uses a JWT from /admin/login.
func NewRouter(d Deps) http.Handler {
	h := NewHandler(d)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware(d.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(APIKeyMiddleware(d.APIKey, d.Logger))

		r.Get("/costs", h.CostsHandler)

		r.Post("/users", h.RegisterHandler)
		r.Route("/users/{userId}", func(r chi.Router) {
			r.Get("/balance", h.GetBalanceHandler)
			r.Get("/transactions", h.HistoryHandler)

			r.Post("/credits/check", h.CheckHandler)
			r.Post("/credits/deduct", h.DeductHandler)
			r.Post("/credits/refund", h.RefundHandler)
			r.Post("/credits/topup", h.TopUpHandler)

			r.Get("/progress", h.GetProgressHandler)
			r.Post("/progress/xp", h.AwardXPHandler)
			r.Post("/progress/activity", h.RecordActivityHandler)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", h.AdminLoginHandler)

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(d.Admin, d.Logger))

			r.Get("/users/{userId}", h.AdminGetUserHandler)
			r.Get("/users/{userId}/transactions", h.HistoryHandler)
			r.Post("/users/{userId}/credits", h.AdminGrantHandler)
		})
	})

	return r
}
