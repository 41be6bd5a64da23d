package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/opsgovernor/governor/internal/apperr"
)

// writeJSON writes a successful response body as-is; handlers pass the
// domain object directly rather than re-wrapping it, matching spec §7's
// envelope being reserved for the failure path only.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the uniform failure envelope from spec §7:
// {success:false, error, code, status, hint?, gate?, fields?, details?}.
func writeError(w http.ResponseWriter, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Internal("unexpected error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.Status)
	_ = json.NewEncoder(w).Encode(ae.ToEnvelope())
}
