package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"daemon-rpc/message"
)

type requestIDKey struct{}

// RequestID returns the id Logging attached to ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Logging records every call with its latency and, on failure, the error code.
// Each request gets a uuid, available to handlers through RequestID.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			rid := uuid.NewString()
			ctx = context.WithValue(ctx, requestIDKey{}, rid)

			start := time.Now()
			resp := next(ctx, req)

			attrs := []any{
				slog.String("request_id", rid),
				slog.String("method", req.Method),
				slog.String("id", req.ID.String()),
				slog.Duration("duration", time.Since(start)),
			}
			if resp != nil && resp.Error != nil {
				attrs = append(attrs, slog.Int("code", resp.Error.Code), slog.String("err", resp.Error.Message))
				logger.Warn("rpc request failed", attrs...)
			} else {
				logger.Info("rpc request", attrs...)
			}
			return resp
		}
	}
}
