package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/apperr"
)

// RequestTimeout returns middleware that sets a context deadline on each
// incoming request. If the deadline passes before the handler completes, the
// request context is cancelled and 504 is returned.
//
// Handlers must honour ctx cancellation; the handler goroutine is not killed.
// A panic in the handler goroutine is returned as a 500 since Recovery
// cannot see it from the request goroutine.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- apperr.Internal(fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
					}
				}()
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					if c.Response().Committed {
						return nil
					}
					return &apperr.AppError{
						Status:  http.StatusGatewayTimeout,
						Code:    "TIMEOUT",
						Message: "request processing exceeded the allowed time limit",
						Err:     ctx.Err(),
					}
				}
				// Client went away.
				return ctx.Err()
			}
		}
	}
}
