package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-sod/posture/internal/logging"
)

const contentTypeJSON = "application/json"

// DecodeJSON reads at most maxBytes of r's body into v, rejecting unknown
// fields. Failures are answered on w and reported as false.
func DecodeJSON(ctx context.Context, w http.ResponseWriter, r *http.Request, maxBytes int64, v interface{}) bool {
	if t := r.Header.Get("Content-Type"); !strings.HasPrefix(t, contentTypeJSON) {
		RespStatus(ctx, w, http.StatusUnsupportedMediaType, `{"error": "content-type is not application/json"}`)
		return false
	}
	defer r.Body.Close()

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	d := json.NewDecoder(r.Body)
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil {
		DecodeErr(ctx, w, err)
		return false
	}
	return true
}

// AllowMethod answers 405 when r is not one of methods.
func AllowMethod(ctx context.Context, w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	RespStatus(ctx, w, http.StatusMethodNotAllowed, `{"error": "method %v is not allowed"}`, r.Method)
	return false
}

func DecodeErr(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		syntaxErr      *json.SyntaxError
		unmarshalError *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &syntaxErr):
		RespBadRequest(ctx, w, `{"error": "malformed json at position %v"}`, syntaxErr.Offset)
	case errors.Is(err, io.ErrUnexpectedEOF):
		RespBadRequest(ctx, w, `{"error": "malformed json"}`)
	case errors.As(err, &unmarshalError):
		RespBadRequest(ctx, w, `{"error": "invalid value %v at position %v"}`, unmarshalError.Field, unmarshalError.Offset)
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		fieldName := strings.TrimPrefix(err.Error(), "json: unknown field ")
		RespBadRequest(ctx, w, `{"error": "unknown field %s"}`, fieldName)
	case errors.Is(err, io.EOF):
		RespBadRequest(ctx, w, `{"error": "body must not be empty"}`)
	case err.Error() == "http: request body too large":
		RespStatus(ctx, w, http.StatusRequestEntityTooLarge, `{"error": "request body too large"}`)
	default:
		RespInternalError(ctx, w, `{"error": "failed to decode json %v"}`, err)
	}
}

// RespJSON writes v with the given status.
func RespJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		RespInternalError(ctx, w, `{"error": "failed to encode output json %v"}`, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func RespStatus(ctx context.Context, w http.ResponseWriter, status int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logging.FromContext(ctx).Debug(msg)
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, msg)
}

func RespBadRequest(ctx context.Context, w http.ResponseWriter, format string, args ...interface{}) {
	RespStatus(ctx, w, http.StatusBadRequest, format, args...)
}

func RespInternalError(ctx context.Context, w http.ResponseWriter, format string, args ...interface{}) {
	logging.FromContext(ctx).Errorf(format, args...)
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = fmt.Fprint(w, `{"error": "internal error"}`)
}

type errorResponse struct {
	Error string `json:"error"`
}

// RespError writes err as a JSON error body. 5xx details are logged, not sent.
func RespError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		logging.FromContext(ctx).Errorf("request failed with %d: %v", status, err)
		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"error": %q}`, strings.ToLower(http.StatusText(status)))
		return
	}
	logging.FromContext(ctx).Debugf("request failed with %d: %v", status, err)
	RespJSON(ctx, w, status, errorResponse{Error: err.Error()})
}
