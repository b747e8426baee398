package handlers

import (
	"context"
	"net/http"
	"time"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	storage pinger
}

func NewHealthHandler(storage pinger) *HealthHandler {
	return &HealthHandler{storage: storage}
}

type healthResponse struct {
	Status string `json:"status"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.storage.Ping(ctx); err != nil {
		sendJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "storage_unreachable"})
		return
	}

	sendJSON(w, http.StatusOK, healthResponse{Status: "OK"})
}
