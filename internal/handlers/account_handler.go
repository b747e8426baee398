package handlers

import (
	"net/http"
	"strconv"

	"ledger-service/internal/service"
	"ledger-service/models"

	"github.com/gorilla/mux"
)

const maxListLimit = 500

type AccountHandler struct {
	accountService     service.AccountService
	transactionService service.TransactionService
}

func NewAccountHandler(accountService service.AccountService, transactionService service.TransactionService) *AccountHandler {
	return &AccountHandler{
		accountService:     accountService,
		transactionService: transactionService,
	}
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, err, http.StatusBadRequest)
		return
	}

	account, err := h.accountService.CreateAccount(r.Context(), &req)
	if err != nil {
		sendError(w, err, http.StatusBadRequest)
		return
	}

	sendJSON(w, http.StatusCreated, account)
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.GetAccount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		sendError(w, err, http.StatusNotFound)
		return
	}

	sendJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxListLimit {
			sendJSONError(w, models.CodeInvalidRequest, "limit must be an integer between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	transactions, err := h.transactionService.ListAccountTransactions(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		sendError(w, err, http.StatusNotFound)
		return
	}

	sendJSON(w, http.StatusOK, models.TransactionListResponse{Transactions: transactions})
}
