// Package middleware wraps the server's dispatch step with cross-cutting
// behaviour. Middlewares see decoded requests and produce responses; they never
// touch bytes on the wire.
package middleware

import (
	"context"

	"daemon-rpc/message"
)

// HandlerFunc answers one decoded request. It must always return a response.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one runs outermost:
// Chain(A, B, C)(h) == A(B(C(h))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// reject builds an error reply in the request's dialect.
func reject(req *message.Request, code int, msg string) *message.Response {
	resp := message.NewErrorResponse(req.ID, message.NewError(code, msg))
	resp.Version = req.Version
	return resp
}
