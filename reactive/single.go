// Package reactive exposes RPC calls as push-style streams.
//
// A Single is cold: nothing is sent until someone subscribes, and every
// subscription issues the call again. Poll is a Single that treats a narrow set
// of "daemon not up yet" failures as an empty completion. A Poller repeats a
// Poll on a ticker while anyone is listening and replays the latest value to
// late subscribers.
package reactive

import (
	"context"
	"errors"
	"sync"

	"daemon-rpc/async"
	"daemon-rpc/message"
	"daemon-rpc/protocol"
	"daemon-rpc/transport"
)

// Observer receives the outcome of a subscription. Nil callbacks are skipped.
// A Single delivers at most one OnValue followed by OnComplete, or one OnError.
type Observer[T any] struct {
	OnValue    func(T)
	OnError    func(error)
	OnComplete func()
}

func (o Observer[T]) value(v T) {
	if o.OnValue != nil {
		o.OnValue(v)
	}
}

func (o Observer[T]) error(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

func (o Observer[T]) complete() {
	if o.OnComplete != nil {
		o.OnComplete()
	}
}

// Call starts one RPC and returns its pending outcome.
type Call[T any] func(ctx context.Context) *async.Future[T]

// Single is a cold one-shot stream over a Call.
type Single[T any] struct {
	call      Call[T]
	transient func(error) bool // nil: every error is delivered
}

// AsSingle wraps call. No I/O happens here.
func AsSingle[T any](call Call[T]) *Single[T] {
	return &Single[T]{call: call}
}

// Poll wraps call so that failures isTransient accepts complete the stream with
// no value and no error. A nil isTransient means IsTransient.
func Poll[T any](call Call[T], isTransient func(error) bool) *Single[T] {
	if isTransient == nil {
		isTransient = IsTransient
	}
	return &Single[T]{call: call, transient: isTransient}
}

// Subscription is a live subscription.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Unsubscribe cancels the call and suppresses an outcome not yet delivered.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Done is closed once the subscription has delivered its outcome or was
// cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Subscribe issues the call and reports its outcome to obs from another
// goroutine.
func (s *Single[T]) Subscribe(ctx context.Context, obs Observer[T]) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer cancel()
		v, ok, err := s.get(ctx)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil:
			obs.error(err)
		case ok:
			obs.value(v)
			obs.complete()
		default:
			obs.complete()
		}
	}()
	return sub
}

// Get runs the call on the caller's goroutine. ok is false when a transient
// failure was suppressed.
func (s *Single[T]) Get(ctx context.Context) (v T, ok bool, err error) {
	return s.get(ctx)
}

func (s *Single[T]) get(ctx context.Context) (T, bool, error) {
	var zero T
	f := s.call(ctx)
	v, err := f.Await(ctx)
	if err != nil {
		f.Cancel()
		if s.transient != nil && s.transient(err) {
			return zero, false, nil
		}
		return zero, false, err
	}
	return v, true, nil
}

// IsTransient reports the failures a poller should wait out: the daemon refusing
// or resetting connections while it starts, and its "warming up" reply (-28),
// whether sent as a plain error reply or in the body of an HTTP error status.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if transport.IsConnectionRefused(err) || transport.IsConnectionReset(err) {
		return true
	}
	var serr *protocol.StatusError
	if errors.As(err, &serr) {
		return serr.RPCError != nil && serr.RPCError.Code == message.CodeInWarmup
	}
	var aerr *message.Error
	return errors.As(err, &aerr) && aerr.Code == message.CodeInWarmup
}
