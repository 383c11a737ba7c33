package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"daemon-rpc/message"
)

// RateLimit admits r requests per second with bursts of up to burst, using a
// token bucket shared by every caller. Excess requests are refused, not queued.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return reject(req, message.CodeServerError, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
