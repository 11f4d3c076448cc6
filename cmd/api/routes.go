package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/fortunecoin/backend/internal/auth"
	"github.com/fortunecoin/backend/internal/config"
	"github.com/fortunecoin/backend/internal/handlers"
	"github.com/fortunecoin/backend/internal/router"
	"github.com/fortunecoin/backend/internal/services"
	"github.com/fortunecoin/backend/internal/store"
)

// newHTTPHandler mounts the API mux and /metrics behind request IDs,
// panic recovery and CORS.
func newHTTPHandler(cfg config.Config, coins *services.CoinService, authSvc auth.Service, st store.Store, logger *slog.Logger) http.Handler {
	api := router.New(router.Deps{
		Coins:         &handlers.CoinHandler{Coins: coins, Logger: logger},
		Auth:          auth.NewHandler(authSvc, logger),
		Tokens:        authSvc,
		Catalog:       coins.Catalog(),
		Store:         st,
		WebhookSecret: cfg.Auth.WebhookSecret,
	})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/*", api)

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
	}).Handler(r)
}
