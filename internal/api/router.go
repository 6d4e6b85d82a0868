package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/savingsledger/internal/idempotency"
)

type RouterConfig struct {
	JWTSecret      string
	InternalAPIKey string
}

// NewRouter wires every route. Mutating client routes sit behind the guard,
// which runs after authentication so keys are scoped to the user.
func NewRouter(h *Handler, guard *idempotency.Guard, cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	r.Use(Instrument(h.logger.Logger))

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()

	internal := apiV1.PathPrefix("/internal").Subrouter()
	internal.Use(InternalAPIKey(cfg.InternalAPIKey))
	internal.HandleFunc("/users", h.ProvisionUserHandler).Methods(http.MethodPost)

	apiV1.HandleFunc("/webhooks/deposits", h.DepositWebhookHandler).Methods(http.MethodPost)

	user := apiV1.NewRoute().Subrouter()
	user.Use(JWTAuth([]byte(cfg.JWTSecret)))

	idem := guard.Middleware
	user.Handle("/goals/transactions", idem(http.HandlerFunc(h.GoalTransactionHandler))).Methods(http.MethodPost)
	user.Handle("/goals", idem(http.HandlerFunc(h.CreateGoalHandler))).Methods(http.MethodPost)
	user.HandleFunc("/goals", h.ListGoalsHandler).Methods(http.MethodGet)
	user.HandleFunc("/goals/{id}", h.GetGoalHandler).Methods(http.MethodGet)
	user.HandleFunc("/goals/{id}", h.UpdateGoalHandler).Methods(http.MethodPatch)
	user.HandleFunc("/goals/{id}", h.DeleteGoalHandler).Methods(http.MethodDelete)
	user.HandleFunc("/goals/{id}/transactions", h.GoalTransactionsHandler).Methods(http.MethodGet)
	user.HandleFunc("/wallet", h.WalletHandler).Methods(http.MethodGet)
	user.HandleFunc("/wallet/transactions", h.WalletTransactionsHandler).Methods(http.MethodGet)
	user.HandleFunc("/wallet/audit", h.WalletAuditHandler).Methods(http.MethodGet)

	return r
}
