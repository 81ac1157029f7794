package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/target/docflow/internal/errors"
)

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Client went away; nothing left to report to.
		return
	}
}

// ErrorParams groups the parts of an error response.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, map[string]string{"error": p.ErrCode, "message": p.Err.Error()})
}

// writeAppError picks the status from the error's code. Errors without a
// code are reported as internal.
func writeAppError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrCodeValidation:
		status = http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeTransport, apperrors.ErrCodeProtocol:
		status = http.StatusBadGateway
	case apperrors.ErrCodeCanceled:
		status = http.StatusServiceUnavailable
	case "":
		code = apperrors.ErrCodeInternal
	}
	var appErr *apperrors.AppError
	if status == http.StatusInternalServerError && !errors.As(err, &appErr) {
		err = errors.New("internal error")
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: string(code), Err: err})
}
