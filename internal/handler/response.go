package handler

// RESPONSE HELPERS:
// Every JSON route answers with the same envelope:
//
//	{"success": true,  "message": "Login successful", "data": {...}}
//	{"success": false, "message": "Invalid login credentials"}
//
// FAILURES KEEP THE ROUTE'S STATUS:
// A failed login still answers 200 and a failed registration 201; the
// client reads `success`. Existing front-end code depends on this, so
// service errors never become 4xx/5xx here. The exceptions are request
// bodies that can't be decoded or don't validate (400), and the access gate,
// which runs before any handler.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/sakif/ticket-platform/internal/apperror"
)

// Envelope is the response body of every JSON route.
type Envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    any               `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"` // per-field validation messages
}

// writeJSON sends a JSON response with the given status code.
//
// Headers and status must be written BEFORE the body; once Encode writes,
// later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// writeFailure sends {success:false} with the route's status.
//
// The message comes from the *apperror.AppError in err's chain, which carries
// text meant for users (including the identity provider's own messages).
// Anything else is logged and replaced by fallback so internals never leak.
func writeFailure(w http.ResponseWriter, logger *slog.Logger, status int, err error, fallback string) {
	message := fallback
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	} else if err != nil {
		logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, Envelope{Success: false, Message: message})
}

// writeBadRequest answers 400 for a body that could not be decoded or did
// not validate. ozzo-validation errors are expanded per field.
func writeBadRequest(w http.ResponseWriter, err error) {
	body := Envelope{Success: false, Message: "Invalid request body"}

	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		body.Message = "Validation failed"
		body.Errors = make(map[string]string, len(fieldErrs))
		for field, fe := range fieldErrs {
			body.Errors[field] = fe.Error()
		}
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && errors.Is(err, apperror.ErrValidation) {
		body.Message = appErr.Message
	}
	writeJSON(w, http.StatusBadRequest, body)
}

// decodeJSON reads a JSON request body into dst. An empty body leaves dst
// at its zero value so validation can report the missing fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
