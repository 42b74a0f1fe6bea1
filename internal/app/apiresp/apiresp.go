package apiresp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes caps request bodies; a full answer snapshot is well below it.
const maxBodyBytes = 1 << 20

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Meta struct {
	RequestID string `json:"request_id,omitempty"`
}

type Envelope struct {
	OK    bool          `json:"ok"`
	Data  any           `json:"data,omitempty"`
	Error *ErrorPayload `json:"error,omitempty"`
	Meta  Meta          `json:"meta"`
}

func WriteOK(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, r, status, Envelope{OK: true, Data: data})
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	write(w, r, status, Envelope{
		OK:    false,
		Error: &ErrorPayload{Code: codeFromStatus(status), Message: msg},
	})
}

// WriteConflict reports a rejected mutation together with the state that
// caused the rejection, so clients can resync without a second request.
func WriteConflict(w http.ResponseWriter, r *http.Request, msg string, current any) {
	write(w, r, http.StatusConflict, Envelope{
		OK:    false,
		Data:  current,
		Error: &ErrorPayload{Code: codeFromStatus(http.StatusConflict), Message: msg},
	})
}

func write(w http.ResponseWriter, r *http.Request, status int, res Envelope) {
	res.Meta = Meta{RequestID: middleware.GetReqID(r.Context())}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

// Decode reads a JSON body into v. An empty body leaves v untouched.
func Decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func codeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		if status >= 200 && status < 300 {
			return ""
		}
		return "error"
	}
}
