package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"daemon-rpc/message"
	"daemon-rpc/transport"
)

// TimeoutInterceptor fails a call that has not been answered within d. The call
// is raced against a timer; its context is cancelled so the transport can abort.
func TimeoutInterceptor(d time.Duration) Interceptor {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			ctx, cancel := context.WithTimeoutCause(ctx, d, fmt.Errorf("%s: no reply within %s: %w", req.Method, d, context.DeadlineExceeded))
			defer cancel()

			type result struct {
				resp *message.Response
				err  error
			}
			done := make(chan result, 1)
			go func() {
				resp, err := next(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				return nil, context.Cause(ctx)
			}
		}
	}
}

// RetryInterceptor re-sends a call that failed to reach the daemon, up to
// maxRetries times with exponential backoff from baseDelay. Only refused and
// reset connections are retried; replies, even error replies, never are.
func RetryInterceptor(maxRetries int, baseDelay time.Duration, logger *slog.Logger) Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Invoker) Invoker {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			resp, err := next(ctx, req)
			for i := 0; i < maxRetries && retryable(err); i++ {
				logger.Warn("retrying rpc call",
					slog.String("method", req.Method),
					slog.Int("attempt", i+1),
					slog.String("err", err.Error()))
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return nil, context.Cause(ctx)
				}
				resp, err = next(ctx, req)
			}
			return resp, err
		}
	}
}

func retryable(err error) bool {
	return err != nil && (transport.IsConnectionRefused(err) || transport.IsConnectionReset(err))
}
