// Package transport implements the blocking "send and wait for bytes" primitive the
// call layer builds futures on.
//
// Two transports are provided:
//   - HTTP:   one POST per call, HTTP Basic credentials on every request.
//   - Stream: many concurrent calls multiplexed over one TCP connection. Each request
//     is registered in a pending table under its id before it is written, and a single
//     receive loop routes replies back by id, so replies may arrive in any order.
//
//	goroutine-1 ──RoundTrip(id=1)──┐
//	goroutine-2 ──RoundTrip(id=2)──┼──→ single TCP conn ──→ daemon
//	goroutine-3 ──RoundTrip(id=3)──┘
//
//	recvLoop:  ←── reply(id=2) → pending[2] chan → goroutine-2 wakes up
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"syscall"
)

// Transport carries one encoded request to the remote and returns the encoded reply.
// Implementations must be safe for concurrent use.
type Transport interface {
	RoundTrip(ctx context.Context, body []byte) ([]byte, error)
	Close() error
}

// Endpoint resolves the URL a call is sent to. It is consulted on every call so a
// discovery-backed endpoint can move between instances.
type Endpoint interface {
	Resolve(ctx context.Context) (*url.URL, error)
}

// Static is an Endpoint that always resolves to the same URL.
type Static struct {
	URL *url.URL
}

func (s Static) Resolve(context.Context) (*url.URL, error) {
	if s.URL == nil {
		return nil, errors.New("no endpoint configured")
	}
	return s.URL, nil
}

// Error means the remote could not be reached or the exchange broke before a reply
// body was received: connection refused, timeout, TLS failure, reset.
type Error struct {
	Op       string // "post", "dial", "write", "read"
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsConnectionRefused reports whether err stems from a refused connection.
func IsConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// IsConnectionReset reports whether the peer reset or closed the connection mid-call.
func IsConnectionReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}
