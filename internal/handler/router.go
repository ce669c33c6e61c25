package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"

	"qatmarket/internal/coordinator"
	"qatmarket/internal/metrics"
	"qatmarket/internal/middleware"
	"qatmarket/internal/notification"
	"qatmarket/internal/session"
	"qatmarket/pkg/config"
	"qatmarket/pkg/logger"
)

// Deps is everything the HTTP surface needs. RateLimiter, Idempotency and
// Revoker are optional and skipped when nil.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Hub         *notification.Hub
	Sessions    *session.Manager
	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	Idempotency *middleware.IdempotencyMiddleware
	Revoker     Revoker
	Checks      map[string]Check
	Session     config.SessionConfig
	OTPSecret   string
	Logger      logger.Logger
}

// NewRouter wires routes and the middleware chain.
func NewRouter(d Deps) http.Handler {
	orders := NewOrderHandler(d.Coordinator, d.Hub, d.Logger)
	wallets := NewWalletHandler(d.Coordinator, d.Logger)
	notes := NewNotificationHandler(d.Hub, d.Logger)
	admin := NewAdminHandler(d.Coordinator, d.Logger)
	realtime := NewRealtimeHandler(d.Auth, d.Sessions, d.Hub, d.Session, d.Logger)
	system := NewSystemHandler(d.Checks)

	idem := alice.New()
	if d.Idempotency != nil {
		idem = idem.Append(d.Idempotency.Require)
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", system.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", system.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", realtime.ServeWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(d.Auth.Authenticate)
	if d.RateLimiter != nil {
		api.Use(d.RateLimiter.Limit)
	}

	if d.Revoker != nil {
		api.HandleFunc("/logout", NewAuthHandler(d.Auth, d.Revoker, d.Logger).Logout).Methods(http.MethodPost)
	}

	// ==============================================================================
	// BUYER AND DRIVER ROUTES
	// ==============================================================================
	api.Handle("/orders", idem.ThenFunc(orders.Place)).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", orders.Get).Methods(http.MethodGet)
	api.Handle("/orders/{id}/cancel", idem.ThenFunc(orders.Cancel)).Methods(http.MethodPost)
	api.Handle("/orders/{id}/status",
		alice.New(middleware.RequireRole(middleware.RoleDriver, middleware.RoleAdmin)).ThenFunc(orders.Advance)).
		Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/chat", orders.Chat).Methods(http.MethodPost)
	api.Handle("/driver/availability",
		alice.New(middleware.RequireRole(middleware.RoleDriver)).ThenFunc(orders.Availability)).
		Methods(http.MethodPost)

	api.HandleFunc("/wallet", wallets.Balance).Methods(http.MethodGet)
	api.HandleFunc("/wallet/transactions", wallets.Transactions).Methods(http.MethodGet)
	api.Handle("/giftcodes/redeem", idem.ThenFunc(wallets.Redeem)).Methods(http.MethodPost)
	api.Handle("/withdrawals", idem.ThenFunc(wallets.RequestWithdrawal)).Methods(http.MethodPost)
	api.HandleFunc("/withdrawals", wallets.Withdrawals).Methods(http.MethodGet)

	api.HandleFunc("/notifications", notes.Unread).Methods(http.MethodGet)
	api.HandleFunc("/notifications/count", notes.Count).Methods(http.MethodGet)
	api.HandleFunc("/notifications/read", notes.MarkRead).Methods(http.MethodPost)

	// ==============================================================================
	// ADMIN ROUTES
	// ==============================================================================
	adm := api.PathPrefix("/admin").Subrouter()
	adm.Use(middleware.RequireRole(middleware.RoleAdmin))
	adm.Use(middleware.NewAuditMiddleware(d.Logger).Audit)

	adm.HandleFunc("/orders/flagged", admin.FlaggedOrders).Methods(http.MethodGet)
	adm.HandleFunc("/orders/{id}/driver", admin.AssignDriver).Methods(http.MethodPost)
	adm.HandleFunc("/orders/{id}/wash", admin.AdvanceWash).Methods(http.MethodPost)
	adm.Handle("/deposits", idem.ThenFunc(admin.Deposit)).Methods(http.MethodPost)
	adm.Handle("/giftcodes", idem.ThenFunc(admin.IssueGiftCode)).Methods(http.MethodPost)
	adm.Handle("/withdrawals/{id}/approve",
		idem.Append(middleware.StepUp(d.OTPSecret)).ThenFunc(admin.ApproveWithdrawal)).
		Methods(http.MethodPost)
	adm.HandleFunc("/withdrawals/{id}/reject", admin.RejectWithdrawal).Methods(http.MethodPost)
	adm.HandleFunc("/wallets/{user}/reconcile", admin.Reconcile).Methods(http.MethodPost)
	adm.HandleFunc("/reconcile", admin.ReconcileAll).Methods(http.MethodPost)

	logging := middleware.NewLoggingMiddleware(d.Logger)
	return alice.New(
		middleware.Recovery(d.Logger),
		middleware.CorrelationID,
		metrics.InstrumentHandler,
		logging.Log,
		middleware.SecurityHeaders,
		middleware.CORS,
		middleware.BodyLimit(maxBody),
	).Then(r)
}
