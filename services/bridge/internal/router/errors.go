package router

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
)

// HTTPError carries the status a failure should be answered with.
type HTTPError struct {
	Status int
	Err    error
}

func (e *HTTPError) Error() string {
	if e.Err == nil {
		return http.StatusText(e.Status)
	}
	return e.Err.Error()
}

func (e *HTTPError) Unwrap() error { return e.Err }

func Errorf(status int, format string, args ...any) *HTTPError {
	return &HTTPError{Status: status, Err: fmt.Errorf(format, args...)}
}

// StatusOf returns the status carried by err, or 500.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) && he.Status >= 400 && he.Status <= 599 {
		return he.Status
	}
	return http.StatusInternalServerError
}

// HandlerFunc is a handler that may fail; the failure is answered by the
// terminal error handler.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

type errorHandler struct {
	h           HandlerFunc
	development bool
}

func (e errorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := e.h(w, r); err != nil {
		slog.ErrorContext(r.Context(), "Request failed",
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
		)
		writeError(w, err, e.development)
	}
}

// writeError sends the status of err. Outside development the body stays
// empty so nothing internal leaks to clients.
func writeError(w http.ResponseWriter, err error, development bool) {
	status := StatusOf(err)
	if development {
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(status)
}

// recoverer turns panics into an error response instead of a dropped connection.
func recoverer(development bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}
				slog.ErrorContext(r.Context(), "panic in handler",
					"error", err,
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeError(w, err, development)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
