package reactive

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"daemon-rpc/async"
	"daemon-rpc/client"
	"daemon-rpc/config"
	"daemon-rpc/logs"
	"daemon-rpc/message"
	"daemon-rpc/protocol"
	"daemon-rpc/transport"
)

// recorder collects everything an Observer receives.
type recorder[T any] struct {
	mu        sync.Mutex
	values    []T
	errs      []error
	completed int
}

func (r *recorder[T]) observer() Observer[T] {
	return Observer[T]{
		OnValue:    func(v T) { r.mu.Lock(); r.values = append(r.values, v); r.mu.Unlock() },
		OnError:    func(err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() },
		OnComplete: func() { r.mu.Lock(); r.completed++; r.mu.Unlock() },
	}
}

func (r *recorder[T]) snapshot() ([]T, []error, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...), append([]error(nil), r.errs...), r.completed
}

func wait(c *qt.C, sub *Subscription) {
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		c.Fatal("subscription never finished")
	}
}

func counting[T any](calls *atomic.Int32, fn func(n int32) (T, error)) Call[T] {
	return func(ctx context.Context) *async.Future[T] {
		n := calls.Add(1)
		return async.Go(ctx, nil, func(context.Context) (T, error) { return fn(n) })
	}
}

func TestSingleIsCold(t *testing.T) {
	c := qt.New(t)
	var calls atomic.Int32
	s := AsSingle(counting(&calls, func(n int32) (int32, error) { return n, nil }))
	c.Assert(calls.Load(), qt.Equals, int32(0))

	for i := 1; i <= 2; i++ {
		var r recorder[int32]
		wait(c, s.Subscribe(context.Background(), r.observer()))
		values, errs, completed := r.snapshot()
		c.Check(values, qt.DeepEquals, []int32{int32(i)})
		c.Check(errs, qt.HasLen, 0)
		c.Check(completed, qt.Equals, 1)
	}
	c.Check(calls.Load(), qt.Equals, int32(2))
}

func TestSingleDeliversErrors(t *testing.T) {
	c := qt.New(t)
	boom := errors.New("boom")
	s := AsSingle(counting(new(atomic.Int32), func(int32) (string, error) { return "", boom }))

	var r recorder[string]
	wait(c, s.Subscribe(context.Background(), r.observer()))
	values, errs, completed := r.snapshot()
	c.Check(values, qt.HasLen, 0)
	c.Check(completed, qt.Equals, 0)
	c.Assert(errs, qt.HasLen, 1)
	c.Check(errs[0], qt.ErrorIs, boom)
}

func TestUnsubscribeSuppressesLateValue(t *testing.T) {
	c := qt.New(t)
	release := make(chan struct{})
	s := AsSingle(func(ctx context.Context) *async.Future[int] {
		return async.Go(ctx, nil, func(context.Context) (int, error) {
			<-release
			return 1, nil
		})
	})

	var r recorder[int]
	sub := s.Subscribe(context.Background(), r.observer())
	sub.Unsubscribe()
	wait(c, sub)
	close(release)

	values, errs, completed := r.snapshot()
	c.Check(values, qt.HasLen, 0)
	c.Check(errs, qt.HasLen, 0)
	c.Check(completed, qt.Equals, 0)
}

func TestPollOverConnectionRefused(t *testing.T) {
	c := qt.New(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, qt.IsNil)
	addr := ln.Addr().String()
	c.Assert(ln.Close(), qt.IsNil)

	cfg, err := config.New("http://"+addr, "u", "p", config.Regtest)
	c.Assert(err, qt.IsNil)
	cl, err := client.New(cfg, client.WithLogger(logs.Discard()))
	c.Assert(err, qt.IsNil)
	defer cl.Close()

	s := Poll(func(ctx context.Context) *async.Future[json.RawMessage] {
		return cl.CallAsync(ctx, "getblockcount", message.Positional())
	}, IsTransient)

	var r recorder[json.RawMessage]
	wait(c, s.Subscribe(context.Background(), r.observer()))
	values, errs, completed := r.snapshot()
	c.Check(values, qt.HasLen, 0)
	c.Check(errs, qt.HasLen, 0)
	c.Check(completed, qt.Equals, 1)
}

func TestPollDeliversNonTransientErrors(t *testing.T) {
	c := qt.New(t)
	invalid := message.NewError(-5, "Invalid address")
	s := Poll(counting(new(atomic.Int32), func(int32) (int, error) { return 0, invalid }), nil)

	var r recorder[int]
	wait(c, s.Subscribe(context.Background(), r.observer()))
	_, errs, completed := r.snapshot()
	c.Check(completed, qt.Equals, 0)
	c.Assert(errs, qt.HasLen, 1)
	c.Check(errs[0], qt.Equals, error(invalid))
}

func TestIsTransient(t *testing.T) {
	c := qt.New(t)
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", &transport.Error{Op: "post", Err: syscall.ECONNREFUSED}, true},
		{"reset", &transport.Error{Op: "read", Err: syscall.ECONNRESET}, true},
		{"warmup reply", message.NewError(message.CodeInWarmup, "Loading block index..."), true},
		{"warmup status", &protocol.StatusError{Code: 500, RPCError: message.NewError(message.CodeInWarmup, "Verifying blocks...")}, true},
		{"other status", &protocol.StatusError{Code: 401}, false},
		{"application", message.NewError(-8, "Block height out of range"), false},
		{"timeout", &transport.Error{Op: "post", Err: context.DeadlineExceeded}, false},
		{"unknown host", &transport.Error{Op: "post", Err: errors.New("no such host")}, false},
	}
	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			c.Check(IsTransient(tc.err), qt.Equals, tc.want)
		})
	}
}

func TestPollerReplaysLatestToLateSubscriber(t *testing.T) {
	c := qt.New(t)
	var calls atomic.Int32
	p := NewPoller(10*time.Millisecond,
		counting(&calls, func(n int32) (int32, error) { return n, nil }),
		WithPollerLogger[int32](logs.Discard()))

	first := make(chan int32, 100)
	unsub1 := p.Subscribe(Observer[int32]{OnValue: func(v int32) { first <- v }})
	select {
	case <-first:
	case <-time.After(2 * time.Second):
		c.Fatal("first subscriber got no value")
	}

	latest, ok := p.Latest()
	c.Assert(ok, qt.IsTrue)

	late := make(chan int32, 100)
	unsub2 := p.Subscribe(Observer[int32]{OnValue: func(v int32) { late <- v }})
	select {
	case v := <-late:
		c.Check(v >= latest, qt.IsTrue, qt.Commentf("replayed %d, latest was %d", v, latest))
	case <-time.After(time.Second):
		c.Fatal("late subscriber got no replay")
	}
	c.Check(p.Subscribers(), qt.Equals, 2)

	unsub1()
	unsub2()
	unsub2()
	c.Check(p.Subscribers(), qt.Equals, 0)
}

func TestPollerStopsWithoutSubscribers(t *testing.T) {
	c := qt.New(t)
	var calls atomic.Int32
	p := NewPoller(5*time.Millisecond,
		counting(&calls, func(n int32) (int32, error) { return n, nil }),
		WithPollerLogger[int32](logs.Discard()))

	time.Sleep(30 * time.Millisecond)
	c.Assert(calls.Load(), qt.Equals, int32(0))

	got := make(chan int32, 100)
	unsub := p.Subscribe(Observer[int32]{OnValue: func(v int32) { got <- v }})
	for i := 0; i < 3; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			c.Fatal("poller did not tick")
		}
	}
	unsub()

	time.Sleep(20 * time.Millisecond)
	stopped := calls.Load()
	time.Sleep(50 * time.Millisecond)
	c.Check(calls.Load(), qt.Equals, stopped)
}

func TestPollerSkipsTransientFailures(t *testing.T) {
	c := qt.New(t)
	var calls atomic.Int32
	p := NewPoller(5*time.Millisecond, counting(&calls, func(n int32) (string, error) {
		if n < 3 {
			return "", message.NewError(message.CodeInWarmup, "warming up")
		}
		return "ready", nil
	}), WithPollerLogger[string](logs.Discard()))

	var r recorder[string]
	got := make(chan string, 100)
	obs := r.observer()
	obs.OnValue = func(v string) { got <- v }
	unsub := p.Subscribe(obs)
	defer unsub()

	select {
	case v := <-got:
		c.Check(v, qt.Equals, "ready")
	case <-time.After(2 * time.Second):
		c.Fatal("poller never produced a value")
	}
	_, errs, _ := r.snapshot()
	c.Check(errs, qt.HasLen, 0)
}

func TestPollerAllowsSubscribeFromCallback(t *testing.T) {
	c := qt.New(t)
	var calls atomic.Int32
	p := NewPoller(5*time.Millisecond,
		counting(&calls, func(n int32) (int32, error) { return n, nil }),
		WithPollerLogger[int32](logs.Discard()))

	nested := make(chan int32, 100)
	var once sync.Once
	var unsubNested func()
	ready := make(chan struct{})
	unsub := p.Subscribe(Observer[int32]{OnValue: func(int32) {
		once.Do(func() {
			unsubNested = p.Subscribe(Observer[int32]{OnValue: func(v int32) {
				select {
				case nested <- v:
				default:
				}
			}})
			close(ready)
		})
	}})
	defer unsub()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		c.Fatal("first subscriber got no value")
	}
	defer unsubNested()

	// The nested subscriber got the replay, and the loop keeps running.
	select {
	case <-nested:
	case <-time.After(2 * time.Second):
		c.Fatal("nested subscriber got no value")
	}
	joined := make(chan func(), 1)
	go func() { joined <- p.Subscribe(Observer[int32]{}) }()
	select {
	case unsub3 := <-joined:
		unsub3()
	case <-time.After(2 * time.Second):
		c.Fatal("Subscribe blocked after a subscriber subscribed from its callback")
	}
	c.Check(p.Subscribers(), qt.Equals, 2)
}
