package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pranavkale/lekha/internal/dispatch"
)

// EventHandler accepts business events and runs them through the dispatcher.
type EventHandler struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func NewEventHandler(dispatcher *dispatch.Dispatcher, logger *slog.Logger) *EventHandler {
	return &EventHandler{dispatcher: dispatcher, logger: logger}
}

func (h *EventHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var event dispatch.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	results, err := h.dispatcher.Dispatch(r.Context(), event)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if results == nil {
		results = []dispatch.Result{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": event.EventID,
		"results":  results,
	})
}
