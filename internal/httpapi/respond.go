package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/outbackwave/cdxindex/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code via apierr.StatusCode and writes a
// small JSON error body. A *apierr.ValidationError additionally reports
// its violation list.
func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusCode(err)
	body := map[string]any{"error": err.Error()}
	var verr *apierr.ValidationError
	if errors.As(err, &verr) {
		body["violations"] = verr.Violations
	}
	writeJSON(w, status, body)
}
