package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pranavkale/lekha/internal/ledger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeServiceError maps the service error taxonomy onto HTTP statuses:
// validation 400, not found 404, state and key conflicts 409, everything
// else 500.
func writeServiceError(w http.ResponseWriter, err error) {
	var ve *ledger.ValidationError
	var nf *ledger.NotFoundError
	var ise *ledger.InvalidStateError
	var ce *ledger.ConflictError

	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error()})
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": nf.Error()})
	case errors.As(err, &ise):
		writeJSON(w, http.StatusConflict, map[string]string{"error": ise.Error()})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, map[string]string{"error": ce.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
