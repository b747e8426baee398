package handlers

import (
	"context"
	"net/http"
	"strings"

	"ledger-service/internal/service"
	"ledger-service/models"

	"github.com/gorilla/mux"
)

type TransactionHandler struct {
	transactionService service.TransactionService
}

func NewTransactionHandler(transactionService service.TransactionService) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
	}
}

type createFunc func(ctx context.Context, key string, req *models.CreateTransactionRequest) (*service.CreateResult, error)

func (h *TransactionHandler) CreatePending(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.transactionService.CreatePending)
}

func (h *TransactionHandler) CreateImmediate(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.transactionService.CreateImmediate)
}

func (h *TransactionHandler) create(w http.ResponseWriter, r *http.Request, create createFunc) {
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" {
		sendJSONError(w, models.CodeMissingIdempotency, "Idempotency-Key header is required", http.StatusBadRequest)
		return
	}

	var req models.CreateTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, err, http.StatusBadRequest)
		return
	}

	result, err := create(r.Context(), key, &req)
	if err != nil {
		sendError(w, err, http.StatusBadRequest)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		w.Header().Set(HeaderIdempotencyHit, "true")
		status = http.StatusOK
	}
	sendJSON(w, status, result.Transaction)
}

func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.transactionService.GetTransaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		sendError(w, err, http.StatusNotFound)
		return
	}

	sendJSON(w, http.StatusOK, txn)
}

func (h *TransactionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	txn, err := h.transactionService.Execute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		sendError(w, err, http.StatusNotFound)
		return
	}

	sendJSON(w, http.StatusOK, txn)
}

func (h *TransactionHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	txn, err := h.transactionService.Reverse(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		sendError(w, err, http.StatusNotFound)
		return
	}

	sendJSON(w, http.StatusOK, txn)
}
