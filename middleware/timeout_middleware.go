package middleware

import (
	"context"
	"time"

	"daemon-rpc/message"
)

// Timeout answers with a server error when next has not finished within
// timeout. The handler keeps running with a cancelled context; its late reply
// is discarded.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return reject(req, message.CodeServerError, "request timed out")
			}
		}
	}
}
