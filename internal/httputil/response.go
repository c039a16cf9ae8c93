// Package httputil provides the JSON envelope and request helpers shared by
// handlers and middleware.
package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	svcerrors "github.com/R3E-Network/loyalty_layer/internal/errors"
	"github.com/R3E-Network/loyalty_layer/internal/logging"
)

// MaxBodyBytes bounds request bodies decoded by DecodeJSON.
const MaxBodyBytes int64 = 1 << 20

// ServerErrorLabel is the error string returned for every 5xx response.
const ServerErrorLabel = "Server Error"

// Envelope is the success response shape.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is the failure response shape.
type ErrorResponse struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"traceId,omitempty"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteSuccess wraps data in the success envelope.
func WriteSuccess(w http.ResponseWriter, status int, data interface{}) {
	WriteJSON(w, status, Envelope{Success: true, Data: data})
}

// WriteErrorResponse writes the failure envelope. For 5xx statuses the error
// label is always ServerErrorLabel; otherwise it echoes message.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	label := message
	if status >= http.StatusInternalServerError {
		label = ServerErrorLabel
	}
	resp := ErrorResponse{
		Success: false,
		Error:   label,
		Message: message,
		Code:    code,
		Details: details,
	}
	if r != nil {
		resp.TraceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, status, resp)
}

// WriteServiceError maps err onto the failure envelope. Errors without a
// ServiceError in their chain, and every 5xx error, are reported with a
// generic message so internal detail never reaches the caller.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil || se.HTTPStatus >= http.StatusInternalServerError {
		WriteErrorResponse(w, r, http.StatusInternalServerError, string(svcerrors.CodeInternal), "An unexpected error occurred", nil)
		return
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

// BadRequest writes a 400 failure envelope.
func BadRequest(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusBadRequest, string(svcerrors.CodeValidation), message, nil)
}

// NotFound writes a 404 failure envelope.
func NotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Not found"
	}
	WriteErrorResponse(w, nil, http.StatusNotFound, string(svcerrors.CodeNotFound), message, nil)
}

// Unauthorized writes a 401 failure envelope.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Authentication required"
	}
	WriteErrorResponse(w, nil, http.StatusUnauthorized, string(svcerrors.CodeUnauthorized), message, nil)
}

// Forbidden writes a 403 failure envelope.
func Forbidden(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Insufficient permissions"
	}
	WriteErrorResponse(w, nil, http.StatusForbidden, string(svcerrors.CodeForbidden), message, nil)
}

// InternalError writes a 500 failure envelope.
func InternalError(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusInternalServerError, string(svcerrors.CodeInternal), message, nil)
}

// MethodNotAllowed writes a 405 failure envelope.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
}

// ErrBodyTooLarge is returned when a body exceeds its limit.
var ErrBodyTooLarge = errors.New("request body too large")

// ReadAllWithLimit reads at most limit bytes from r.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// ReadAllStrict decodes a JSON body into v, rejecting unknown fields and
// trailing data.
func ReadAllStrict(r io.Reader, limit int64, v interface{}) error {
	data, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("request body is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON: trailing data")
	}
	return nil
}

// DecodeJSON decodes the request body into v. On failure it writes a 400
// and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := ReadAllStrict(r.Body, MaxBodyBytes, v); err != nil {
		WriteErrorResponse(w, r, http.StatusBadRequest, string(svcerrors.CodeInvalidFormat), err.Error(), nil)
		return false
	}
	return true
}
