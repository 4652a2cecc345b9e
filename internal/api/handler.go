package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/fundsgate/internal/domain"
	"github.com/punchamoorthee/fundsgate/internal/service"
)

type TransferService interface {
	TransferFunds(ctx context.Context, in service.TransferInput) (*domain.TransferResult, error)
	GetTransfer(ctx context.Context, globalID string) (*domain.TransactionView, error)
	ListTransactions(ctx context.Context, accountGlobalID, direction string, page service.PageInput) (*domain.Connection[domain.TransactionView], error)
}

type AccountService interface {
	CreateAccount(ctx context.Context, in service.CreateAccountInput) (*domain.AccountView, error)
	GetAccount(ctx context.Context, globalID string) (*domain.AccountView, error)
	UpdateAccount(ctx context.Context, globalID string, in service.UpdateAccountInput) (*domain.AccountView, error)
	DeactivateAccount(ctx context.Context, globalID string) (*domain.AccountView, error)
	ListAccounts(ctx context.Context, in service.ListAccountsInput) (*domain.Connection[domain.AccountView], error)
	ListEntries(ctx context.Context, globalID string, limit int) ([]domain.EntryView, error)
}

// Pinger reports database reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	transfers TransferService
	accounts  AccountService
	db        Pinger
	logger    *slog.Logger
}

func NewHandler(transfers TransferService, accounts AccountService, db Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{transfers: transfers, accounts: accounts, db: db, logger: logger}
}

// Routes builds the router with every endpoint and middleware attached.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestID, h.observe)
	// Middleware only wraps matched routes. The subrouter keeps no handlers
	// of its own so misses fall through to these.
	r.NotFoundHandler = RequestID(h.observe(http.HandlerFunc(h.notFound)))
	r.MethodNotAllowedHandler = RequestID(h.observe(http.HandlerFunc(h.methodNotAllowed)))

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/accounts", h.CreateAccount).Methods(http.MethodPost)
	v1.HandleFunc("/accounts", h.ListAccounts).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}", h.GetAccount).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}", h.UpdateAccount).Methods(http.MethodPatch)
	v1.HandleFunc("/accounts/{id}/deactivate", h.DeactivateAccount).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id}/entries", h.ListEntries).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}/transactions", h.ListTransactions).Methods(http.MethodGet)
	v1.HandleFunc("/transfers", h.CreateTransfer).Methods(http.MethodPost)
	v1.HandleFunc("/transfers/{id}", h.GetTransfer).Methods(http.MethodGet)
	return r
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{
		Code:    domain.CodeNotFound,
		Message: "Route not found",
	}})
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errorDetail{
		Code:    domain.CodeValidation,
		Message: "Method not allowed",
	}})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateTransfer takes the idempotency key from the Idempotency-Key header,
// falling back to the body. Fresh transfers answer 201, replays 200.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var in service.TransferInput
	if !h.decode(w, r, &in) {
		return
	}
	if key := r.Header.Get("Idempotency-Key"); strings.TrimSpace(key) != "" {
		in.IdempotencyKey = key
	}

	res, err := h.transfers.TransferFunds(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.IdempotentReplay {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/api/v1/transfers/"+res.Transaction.ID)
	respondJSON(w, status, res)
}

func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	view, err := h.transfers.GetTransfer(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var in service.CreateAccountInput
	if !h.decode(w, r, &in) {
		return
	}
	view, err := h.accounts.CreateAccount(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/accounts/"+view.ID)
	respondJSON(w, http.StatusCreated, view)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	view, err := h.accounts.GetAccount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateAccountInput
	if !h.decode(w, r, &in) {
		return
	}
	view, err := h.accounts.UpdateAccount(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	conn, err := h.accounts.ListAccounts(r.Context(), service.ListAccountsInput{
		PageInput: page,
		Status:    r.URL.Query().Get("status"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, conn)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	conn, err := h.transfers.ListTransactions(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("direction"), page)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, conn)
}

func (h *Handler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	view, err := h.accounts.DeactivateAccount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(w, r, domain.Validation("limit", "limit must be an integer"))
			return
		}
		limit = n
	}
	entries, err := h.accounts.ListEntries(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// pageParams reads the first and after query parameters.
func pageParams(r *http.Request) (service.PageInput, error) {
	q := r.URL.Query()
	page := service.PageInput{After: q.Get("after")}
	if raw := q.Get("first"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, domain.Validation("first", "first must be an integer")
		}
		page.First = n
	}
	return page, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.DebugContext(r.Context(), "malformed request body", "error", err)
		respondJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    domain.CodeValidation,
			Message: "Invalid JSON",
		}})
		return false
	}
	return true
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code              domain.Code `json:"code"`
	Message           string      `json:"message"`
	Field             string      `json:"field,omitempty"`
	RetryAfterSeconds int         `json:"retryAfterSeconds,omitempty"`
}

func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeValidation, domain.CodeInsufficientFunds, domain.CodeAccountInactive:
		return http.StatusUnprocessableEntity
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	de, ok := domain.AsError(err)
	if !ok || de.Code == domain.CodeInternal {
		h.logger.ErrorContext(r.Context(), "request failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Code:    domain.CodeInternal,
			Message: "Internal server error",
		}})
		return
	}
	if de.Code == domain.CodeRateLimited && de.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(de.RetryAfterSeconds))
	}
	respondJSON(w, statusFor(de.Code), errorBody{Error: errorDetail{
		Code:              de.Code,
		Message:           de.Message,
		Field:             de.Field,
		RetryAfterSeconds: de.RetryAfterSeconds,
	}})
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
