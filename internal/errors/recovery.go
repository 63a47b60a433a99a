package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"
)

// Recover runs fn and converts a panic escaping it into a KindFatal error
// carrying the panic value and the goroutine stack.
func Recover(component string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &Error{
				Kind:      KindFatal,
				Message:   fmt.Sprintf("panic: %v", rec),
				Component: component,
				Stack:     strings.Split(strings.TrimSpace(string(debug.Stack())), "\n"),
			}
		}
	}()
	return fn()
}

// RecoveryMiddleware returns a middleware that recovers from panics.
func RecoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Recovered from panic",
						zap.Any("error", rec),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
