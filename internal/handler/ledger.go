package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pranavkale/lekha/internal/ledger"
)

// LedgerHandler exposes derived balances and entry history.
type LedgerHandler struct {
	service *ledger.Service
	logger  *slog.Logger
}

func NewLedgerHandler(service *ledger.Service, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{service: service, logger: logger}
}

func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	currency := r.URL.Query().Get("currency")

	balance, err := h.service.GetBalance(r.Context(), userID, currency)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (h *LedgerHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	history, err := h.service.GetHistory(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
