// Package api exposes the ledger engine over HTTP. It owns routing, request
// validation, idempotency-key header handling and error-to-status mapping;
// all ledger semantics live in the engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ledgersmith/miniledger/internal/domain"
	"github.com/ledgersmith/miniledger/internal/ledger"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	engine   *ledger.Engine
	validate *validator.Validate
}

func NewHandler(engine *ledger.Engine) *Handler {
	return &Handler{engine: engine, validate: validator.New()}
}

// Router wires all routes under /api/v1 plus /health and /metrics.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	apiV1.HandleFunc("/accounts/{id}", h.GetAccount).Methods("GET")
	apiV1.HandleFunc("/accounts/{id}/deposit", h.Deposit).Methods("POST")
	apiV1.HandleFunc("/accounts/{id}/withdraw", h.Withdraw).Methods("POST")
	apiV1.HandleFunc("/accounts/{id}/statement", h.GetStatement).Methods("GET")
	apiV1.HandleFunc("/transfers", h.CreateTransfer).Methods("POST")
	return r
}

type createAccountRequest struct {
	OwnerName string `json:"owner_name" validate:"required"`
}

type movementRequest struct {
	Amount int64  `json:"amount" validate:"required,min=1"`
	Memo   string `json:"memo"`
}

type transferRequest struct {
	SourceAccountID uuid.UUID `json:"source_account_id" validate:"required"`
	DestAccountID   uuid.UUID `json:"dest_account_id" validate:"required"`
	Amount          int64     `json:"amount" validate:"required,min=1"`
	Memo            string    `json:"memo"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "owner_name is required", "POST", endpoint)
		return
	}

	account, err := h.engine.CreateAccount(r.Context(), req.OwnerName)
	if err != nil {
		h.respondDomainError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusCreated, account, "POST", endpoint)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}"
	id, ok := h.accountID(w, r, "GET", endpoint)
	if !ok {
		return
	}

	account, err := h.engine.GetAccount(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, account, "GET", endpoint)
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}/deposit"
	h.moneyMovement(w, r, endpoint, h.engine.Deposit)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}/withdraw"
	h.moneyMovement(w, r, endpoint, h.engine.Withdraw)
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transfers"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		h.respondError(w, http.StatusBadRequest, "Missing Idempotency-Key header", "POST", endpoint)
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Positive amount and both account ids required", "POST", endpoint)
		return
	}

	result, err := h.engine.Transfer(r.Context(), req.SourceAccountID, req.DestAccountID, req.Amount, req.Memo, idempotencyKey)
	if err != nil {
		h.respondDomainError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, result, "POST", endpoint)
}

func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}/statement"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	id, ok := h.accountID(w, r, "GET", endpoint)
	if !ok {
		return
	}

	limit := ledger.DefaultStatementLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer", "GET", endpoint)
			return
		}
		limit = parsed
	}

	page, err := h.engine.GetStatement(r.Context(), id, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		h.respondDomainError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, page, "GET", endpoint)
}

// moneyMovement handles the shared shape of deposit and withdraw requests.
func (h *Handler) moneyMovement(w http.ResponseWriter, r *http.Request, endpoint string,
	op func(ctx context.Context, id uuid.UUID, amount int64, memo, key string) (*domain.Account, error)) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		h.respondError(w, http.StatusBadRequest, "Missing Idempotency-Key header", "POST", endpoint)
		return
	}

	id, ok := h.accountID(w, r, "POST", endpoint)
	if !ok {
		return
	}

	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Positive amount required", "POST", endpoint)
		return
	}

	account, err := op(r.Context(), id, req.Amount, req.Memo, idempotencyKey)
	if err != nil {
		h.respondDomainError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, account, "POST", endpoint)
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request, method, endpoint string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid account id", method, endpoint)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error, method, endpoint string) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		h.respondError(w, http.StatusNotFound, "Account not found", method, endpoint)
	case errors.Is(err, domain.ErrInsufficientFunds):
		h.respondError(w, http.StatusConflict, "Insufficient funds", method, endpoint)
	case errors.Is(err, domain.ErrDuplicateIdempotencyKey):
		h.respondError(w, http.StatusConflict, "Idempotency key reused with different parameters", method, endpoint)
	case errors.Is(err, domain.ErrIdempotencyInProgress):
		h.respondError(w, http.StatusConflict, "Request processing in progress", method, endpoint)
	case errors.Is(err, domain.ErrValidation):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), method, endpoint)
	case errors.Is(err, domain.ErrInvalidArgument):
		h.respondError(w, http.StatusBadRequest, err.Error(), method, endpoint)
	default:
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, message, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": message}, method, endpoint)
}
