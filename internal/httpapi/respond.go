package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/fluidmcp/gateway/internal/errs"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// writeJSON marshals v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] encode response: %v", err)
	}
}

// writeError maps err's errs.Kind to an HTTP status code and writes a
// structured {error, detail} body. Internal error detail never reaches the
// wire for Unknown-kind errors -- only the tagged kinds carry a
// caller-facing message.
func writeError(w http.ResponseWriter, err error) {
	kind := errs.As(err)
	status := statusForKind(kind)
	detail := err.Error()
	if kind == errs.Unknown {
		log.Printf("[HTTP] internal error: %v", err)
		detail = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: kind.String(), Detail: detail})
}

func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.Validation:
		return http.StatusBadRequest
	case errs.Conflict:
		return http.StatusConflict
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Timeout:
		return http.StatusGatewayTimeout
	case errs.ChildError:
		// The child returned a JSON-RPC error object: the HTTP call itself
		// succeeded, the tool call failed. The handler sends the child's
		// code/message/data verbatim in a 200 body.
		return http.StatusOK
	case errs.LaunchFailed, errs.PersistenceDegraded, errs.BackendAuth:
		// BackendAuth is a misconfigured-model condition discovered at
		// dispatch time, not a caller input error -- surfaced as 500, same
		// as LaunchFailed.
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Wrap(errs.Validation, err, "decode request body")
	}
	return nil
}
