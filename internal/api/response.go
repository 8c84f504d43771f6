package api

import (
	"encoding/json"
	"net/http"

	"github.com/coinharbor/custody/internal/logger"
	apperrors "github.com/coinharbor/custody/pkg/errors"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError renders a typed error with its status code. Untyped errors are
// logged and masked as a 500; their detail never reaches the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := apperrors.IsAppError(err); ok {
		writeJSON(w, appErr.StatusCode, errorEnvelope{Error: errorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
			Detail:  appErr.Detail,
		}})
		return
	}

	logger.Error(r.Context(), "internal error", "error", err, "path", r.URL.Path)
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
		Code:    "internal_error",
		Message: "internal server error",
	}})
}

// decodeJSON parses a request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Validation("invalid request body: " + err.Error())
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorEnvelope{Error: errorBody{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	}})
}
