// Package middleware holds fasthttp handler wrappers shared by the HTTP surface.
package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RecoveryConfig configures panic recovery middleware
type RecoveryConfig struct {
	// Logger receives one error record per recovered panic. Defaults to slog.Default().
	Logger *slog.Logger

	// StackTrace includes the panic value in the response body (use with caution in production)
	StackTrace bool
}

// RequestID ensures every request has an ID, taking the client's when present,
// and echoes it on the response.
func RequestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Peek(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
			ctx.Request.Header.Set(RequestIDHeader, id)
		}
		next(ctx)
		// Set after next: ctx.Error resets response headers.
		ctx.Response.Header.Set(RequestIDHeader, id)
	}
}

// Recovery turns a handler panic into a 500 JSON response.
func Recovery(config RecoveryConfig) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				requestID := string(ctx.Request.Header.Peek(RequestIDHeader))
				logger.Error("panic recovered",
					"request_id", requestID,
					"method", string(ctx.Method()),
					"path", string(ctx.Path()),
					"panic", r,
				)

				msg := "Internal Server Error"
				if config.StackTrace {
					msg = fmt.Sprintf("Panic: %v", r)
				}
				ctx.Response.Reset()
				ctx.Response.Header.Set(RequestIDHeader, requestID)
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetContentType("application/json")
				body, _ := json.Marshal(map[string]string{
					"error":      "internal_server_error",
					"message":    msg,
					"request_id": requestID,
				})
				ctx.SetBody(body)
			}()

			next(ctx)
		}
	}
}
