/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. Authenticate (under /api only): Bearer token to Principal

ROUTE GROUPS:
  /healthz                  Liveness and store ping
  /metrics                  Prometheus scrape endpoint
  /api/auth/login           Token issue (public)
  /api/admissions/*         Enrollment workflow
  /api/accounts/*           Ledger accounts
  /api/transactions/*       Ledger postings
  /api/staff/*              Payroll staff and structures
  /api/salary-payments/*    Payroll payments
  /api/fees/*               Fee invoices
  /api/scenarios/*          Demo scenarios

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authentication middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds transport-level settings.
type RouterConfig struct {
	AllowedOrigins []string
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// Pinger is implemented by stores that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(h.Tokens))

			r.Get("/auth/me", h.Me)

			// Enrollment routes
			r.Route("/admissions", func(r chi.Router) {
				r.Post("/", h.Enroll)
				r.Put("/", h.UpdateAdmission)
				r.Get("/guardians", h.ListGuardians)
				r.Get("/guardians/{id}/students", h.ListGuardianStudents)
				r.Delete("/students/{id}", h.DeleteStudent)
			})

			// Ledger routes
			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", h.ListAccounts)
				r.Post("/", h.OpenAccount)
				r.Get("/reconcile", h.ReconcileAll)
				r.Get("/{id}", h.GetAccount)
				r.Put("/{id}/status", h.SetAccountStatus)
				r.Get("/{id}/transactions", h.ListAccountTransactions)
				r.Get("/{id}/reconcile", h.Reconcile)
			})
			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", h.ListTransactions)
				r.Post("/", h.PostTransaction)
			})

			// Payroll routes
			r.Route("/staff", func(r chi.Router) {
				r.Post("/", h.RegisterStaff)
				r.Post("/structures", h.CreateStructure)
				r.Get("/{id}/structures", h.ListStructures)
				r.Get("/{id}/structures/active", h.ActiveStructure)
			})
			r.Route("/salary-payments", func(r chi.Router) {
				r.Get("/", h.ListPayments)
				r.Post("/", h.PostPayment)
			})

			// Fee routes
			r.Route("/fees", func(r chi.Router) {
				r.Post("/", h.CreateInvoice)
				r.Get("/{id}", h.GetInvoice)
				r.Put("/{id}", h.UpdateInvoice)
				r.Get("/students/{id}", h.ListStudentInvoices)
			})

			// Scenario routes
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		})
	})

	return r
}

// Health reports liveness and, when the store supports it, connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			h.Logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
