package server

import (
	"context"
	"sync"

	"daemon-rpc/message"
)

type replyHooksKey struct{}

// replyHooks collects work that must wait until the reply is on the wire.
type replyHooks struct {
	mu  sync.Mutex
	fns []func()
}

func withReplyHooks(ctx context.Context) (context.Context, *replyHooks) {
	h := &replyHooks{}
	return context.WithValue(ctx, replyHooksKey{}, h), h
}

func (h *replyHooks) run() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// AfterReply schedules fn to run once the reply to the current request has been
// written. Outside a hosted request (a direct Service.Dispatch call) fn runs on
// a new goroutine straight away.
func AfterReply(ctx context.Context, fn func()) {
	if h, ok := ctx.Value(replyHooksKey{}).(*replyHooks); ok {
		h.mu.Lock()
		h.fns = append(h.fns, fn)
		h.mu.Unlock()
		return
	}
	go fn()
}

// StopMethod registers "stop". The caller always receives its reply before
// shutdown runs.
func StopMethod(shutdown func()) Method {
	return Method{
		Name:    "stop",
		Summary: "stop",
		Detail:  "stop\n\nRequest a graceful shutdown of the server.",
		Handler: Func(func(ctx context.Context, _ message.Params) (any, error) {
			AfterReply(ctx, shutdown)
			return "daemon-rpc stopping", nil
		}),
	}
}
