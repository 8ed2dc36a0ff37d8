package http

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mobilemoney/server/internal/auth"
	"github.com/mobilemoney/server/internal/http/handlers"
	"github.com/mobilemoney/server/internal/middleware"
	"github.com/mobilemoney/server/internal/repo"
)

// Deps are the handlers and collaborators the router wires together.
type Deps struct {
	Auth         *handlers.AuthHandler
	Accounts     *handlers.AccountHandler
	Transactions *handlers.TransactionHandler
	Dashboard    *handlers.DashboardHandler

	JWT         *auth.JWTService
	AccountRepo repo.AccountRepo

	// SendOTPLimiter and VerifyOTPLimiter are keyed by client IP.
	SendOTPLimiter   middleware.Allower
	VerifyOTPLimiter middleware.Allower

	Logger *slog.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Post("/comptes", d.Accounts.HandleCreate)
	r.With(middleware.RateLimitMiddleware(d.SendOTPLimiter, middleware.GetIPKey, d.Logger)).
		Post("/send-otp", d.Auth.HandleSendOTP)
	r.With(middleware.RateLimitMiddleware(d.VerifyOTPLimiter, middleware.GetIPKey, d.Logger)).
		Post("/verify-otp", d.Auth.HandleVerifyOTP)
	r.Post("/login", d.Auth.HandleLogin)

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(d.JWT, d.AccountRepo))

		r.Get("/dashboard", d.Dashboard.HandleDashboard)
		r.Get("/compte/solde", d.Dashboard.HandleBalance)

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", d.Transactions.HandleList)
			r.Post("/paiement", d.Transactions.HandlePayment)
			r.Post("/transfert", d.Transactions.HandleTransfer)
			r.Get("/{reference}", d.Transactions.HandleGet)
		})
	})

	return r
}
