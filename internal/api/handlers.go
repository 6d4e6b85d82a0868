package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/punchamoorthee/savingsledger/internal/logging"
	"github.com/punchamoorthee/savingsledger/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxBodyBytes = 1 << 20
	defaultLimit = 50
	maxLimit     = 200
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	transfers     *service.TransferService
	goals         *service.GoalService
	health        Pinger
	validate      *validator.Validate
	webhookSecret []byte
	logger        *logging.Logger
}

func NewHandler(transfers *service.TransferService, goals *service.GoalService, health Pinger, webhookSecret string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Handler{
		transfers:     transfers,
		goals:         goals,
		health:        health,
		validate:      newValidator(),
		webhookSecret: []byte(webhookSecret),
		logger:        logger.Named("api"),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.health.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GoalTransactionHandler runs a contribution or a withdrawal.
func (h *Handler) GoalTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req domain.GoalTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	goalID, _ := uuid.Parse(req.GoalID)
	amount, err := domain.ParseDecimal(string(req.Amount))
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}

	result, err := h.transfers.Execute(r.Context(), userID, goalID, req.TransactionType, amount, req.Description)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}

	message := "Contribution successful"
	if req.TransactionType == domain.GoalWithdrawal {
		message = "Withdrawal successful"
	}
	respondWithJSON(w, http.StatusOK, domain.GoalTransactionResponse{
		Success:       true,
		Message:       message,
		TransferID:    result.TransferID,
		WalletBalance: result.WalletBalance,
		GoalAmount:    result.GoalAmount,
	})
}

func (h *Handler) CreateGoalHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req domain.CreateGoalRequest
	if !h.decode(w, r, &req) {
		return
	}
	target, err := domain.ParseDecimal(string(req.TargetAmount))
	if err != nil {
		h.respondWithDomainError(w, fmt.Errorf("%w: target_amount: %v", domain.ErrInvalidGoal, err))
		return
	}
	opening := decimal.Zero
	if len(req.Amount) > 0 && string(req.Amount) != "null" {
		if opening, err = domain.ParseDecimal(string(req.Amount)); err != nil {
			h.respondWithDomainError(w, err)
			return
		}
	}

	goal, err := h.goals.CreateGoal(r.Context(), userID, domain.NewGoal{
		Name:          req.Name,
		TargetAmount:  target,
		OpeningAmount: opening,
	})
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/goals/%s", goal.ID))
	respondWithJSON(w, http.StatusCreated, goal)
}

func (h *Handler) ListGoalsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	goals, err := h.goals.ListGoals(r.Context(), userID)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, goals)
}

func (h *Handler) GetGoalHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	goalID, ok := goalIDFromPath(w, r)
	if !ok {
		return
	}
	goal, err := h.goals.GetGoal(r.Context(), userID, goalID)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, goal)
}

func (h *Handler) UpdateGoalHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	goalID, ok := goalIDFromPath(w, r)
	if !ok {
		return
	}
	var req domain.UpdateGoalRequest
	if !h.decode(w, r, &req) {
		return
	}
	goal, err := h.goals.UpdateGoalStatus(r.Context(), userID, goalID, req.Status)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, goal)
}

func (h *Handler) DeleteGoalHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	goalID, ok := goalIDFromPath(w, r)
	if !ok {
		return
	}
	if err := h.goals.DeleteGoal(r.Context(), userID, goalID); err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Savings goal deleted"})
}

func (h *Handler) GoalTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	goalID, ok := goalIDFromPath(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	txs, err := h.goals.ListGoalTransactions(r.Context(), userID, goalID, limit, offset)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, txs)
}

func (h *Handler) WalletHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	wallet, err := h.goals.GetWallet(r.Context(), userID)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wallet)
}

func (h *Handler) WalletTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	txs, err := h.goals.ListWalletTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, txs)
}

func (h *Handler) WalletAuditHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	report, err := h.goals.AuditWallet(r.Context(), userID)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// ProvisionUserHandler is called by the user service when an account is created.
func (h *Handler) ProvisionUserHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ProvisionUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID, _ := uuid.Parse(req.UserID)

	wallet, created, err := h.goals.ProvisionUser(r.Context(), domain.NewWallet{
		UserID:        userID,
		Currency:      req.Currency,
		BankName:      req.BankName,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondWithJSON(w, status, wallet)
}

// decode reads and validates a JSON body, answering 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "validation error"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", fe.Field())
	default:
		return fmt.Sprintf("%s failed validation: %s", fe.Field(), fe.Tag())
	}
}

func goalIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid goal id")
		return uuid.Nil, false
	}
	return id, true
}

func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit, offset = defaultLimit, 0
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return 0, 0, false
		}
		limit = min(n, maxLimit)
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// statusFor maps ledger errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case domain.IsValidation(err):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrGoalNotFound),
		errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrInsufficientWalletFunds),
		errors.Is(err, domain.ErrInsufficientGoalFunds):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrGoalNotEmpty),
		errors.Is(err, domain.ErrWalletExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrStorageConflict):
		return http.StatusServiceUnavailable, "Ledger is busy, please retry"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

func (h *Handler) respondWithDomainError(w http.ResponseWriter, err error) {
	code, msg := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	respondWithError(w, code, msg)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]interface{}{"success": false, "error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
