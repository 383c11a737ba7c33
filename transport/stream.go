package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"daemon-rpc/codec"
	"daemon-rpc/message"
	"daemon-rpc/protocol"
)

// ErrClosed is returned for calls made after the stream was closed.
var ErrClosed = errors.New("stream closed")

type reply struct {
	body []byte
	err  error
}

// Stream manages a single multiplexed connection carrying newline-delimited JSON.
type Stream struct {
	conn    net.Conn
	addr    string
	pending sync.Map   // map[message.ID]chan reply, one per in-flight call
	sending sync.Mutex // Write lock: concurrent calls share one conn, frames must not interleave
	logger  *slog.Logger

	dead    chan struct{} // closed when recvLoop exits
	deadErr error         // set before dead is closed
	once    sync.Once
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithStreamLogger sets the logger used for dropped-reply warnings.
func WithStreamLogger(l *slog.Logger) StreamOption {
	return func(s *Stream) { s.logger = l }
}

// DialStream connects to addr and starts the receive loop.
// TCP keepalive takes the place of protocol-level heartbeats.
func DialStream(ctx context.Context, network, addr string, opts ...StreamOption) (*Stream, error) {
	d := net.Dialer{KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, &Error{Op: "dial", Endpoint: addr, Err: err}
	}
	return NewStream(conn, opts...), nil
}

// NewStream wraps conn and starts a background goroutine that reads replies and
// dispatches them to pending callers.
func NewStream(conn net.Conn, opts ...StreamOption) *Stream {
	s := &Stream{
		conn:   conn,
		addr:   conn.RemoteAddr().String(),
		logger: slog.Default(),
		dead:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.recvLoop()
	return s
}

// RoundTrip writes body and waits for the reply carrying the same id.
//
// The reply channel is registered BEFORE the frame is written, otherwise a fast
// daemon could answer before recvLoop knows whom to route the reply to.
func (s *Stream) RoundTrip(ctx context.Context, body []byte) ([]byte, error) {
	id, err := peekID(body)
	if err != nil {
		return nil, fmt.Errorf("stream request: %w", err)
	}
	select {
	case <-s.dead:
		return nil, s.deadErr
	default:
	}

	ch := make(chan reply, 1) // Buffered so recvLoop never blocks on a departed caller
	if _, loaded := s.pending.LoadOrStore(id, ch); loaded {
		return nil, fmt.Errorf("stream request: id %s already in flight", id)
	}

	s.sending.Lock()
	err = protocol.Encode(s.conn, body)
	s.sending.Unlock()
	if err != nil {
		s.pending.Delete(id)
		return nil, &Error{Op: "write", Endpoint: s.addr, Err: err}
	}

	select {
	case r := <-ch:
		return r.body, r.err
	case <-s.dead:
		if _, ok := s.pending.LoadAndDelete(id); ok {
			return nil, s.deadErr
		}
		r := <-ch
		return r.body, r.err
	case <-ctx.Done():
		// The reply may still arrive; recvLoop will find no entry and drop it.
		s.pending.Delete(id)
		return nil, context.Cause(ctx)
	}
}

// recvLoop is the only reader of the connection. TCP is a byte stream, so reads must
// be sequential to find frame boundaries.
func (s *Stream) recvLoop() {
	dec := protocol.NewDecoder(s.conn)
	for {
		frame, err := dec.Decode()
		if err != nil {
			s.shutdown(&Error{Op: "read", Endpoint: s.addr, Err: err})
			return
		}
		id, err := peekID(frame)
		if err != nil {
			s.logger.Warn("dropping undecodable reply", slog.String("remote", s.addr), slog.String("err", err.Error()))
			continue
		}
		if id.IsNull() {
			s.deliverUnmatched(frame)
			continue
		}
		if ch, ok := s.pending.LoadAndDelete(id); ok {
			ch.(chan reply) <- reply{body: frame}
			continue
		}
		// Never pair an unknown id with some other caller.
		s.logger.Warn("dropping reply with unknown id", slog.String("remote", s.addr), slog.String("id", id.String()))
	}
}

// deliverUnmatched handles a reply whose id is null: the peer could not read
// some request. With exactly one call waiting the reply must be its answer.
// With several it cannot be attributed, so all of them fail.
func (s *Stream) deliverUnmatched(frame []byte) {
	var keys []any
	s.pending.Range(func(key, _ any) bool {
		keys = append(keys, key)
		return len(keys) < 2
	})
	switch len(keys) {
	case 0:
		s.logger.Warn("dropping reply with null id", slog.String("remote", s.addr))
		return
	case 1:
		if ch, ok := s.pending.LoadAndDelete(keys[0]); ok {
			ch.(chan reply) <- reply{body: frame}
		}
		return
	}
	err := &codec.ProtocolError{Kind: codec.Violation, Msg: "reply with null id matches none of several pending calls"}
	s.pending.Range(func(key, value any) bool {
		if _, ok := s.pending.LoadAndDelete(key); ok {
			value.(chan reply) <- reply{err: err}
		}
		return true
	})
}

// shutdown fails every pending caller so none blocks forever on a dead connection.
func (s *Stream) shutdown(err error) {
	s.once.Do(func() {
		s.deadErr = err
		close(s.dead)
		_ = s.conn.Close()
	})
	s.pending.Range(func(key, value any) bool {
		if _, ok := s.pending.LoadAndDelete(key); ok {
			value.(chan reply) <- reply{err: s.deadErr}
		}
		return true
	})
}

// Done is closed once the connection is unusable.
func (s *Stream) Done() <-chan struct{} { return s.dead }

// Close closes the connection and fails pending calls with ErrClosed.
func (s *Stream) Close() error {
	s.shutdown(&Error{Op: "close", Endpoint: s.addr, Err: ErrClosed})
	return nil
}

func peekID(body []byte) (message.ID, error) {
	var envelope struct {
		ID message.ID `json:"id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return message.ID{}, err
	}
	return envelope.ID, nil
}
