// Package server exposes local methods as JSON-RPC services.
//
// Request processing pipeline:
//
//	HTTP POST (chi router)        newline-delimited stream
//	      \                          /
//	       serveBody: codec.DecodeRequest
//	         -> middleware chain -> Service.Dispatch -> handler future
//	         -> codec.EncodeResponse -> write reply -> AfterReply hooks
//
// Every request is handled on its own goroutine, so a slow handler never holds
// up requests that arrive after it, even on the same stream connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/netutil"

	"daemon-rpc/codec"
	"daemon-rpc/message"
	"daemon-rpc/middleware"
	"daemon-rpc/protocol"
	"daemon-rpc/registry"
)

// Server hosts a Service over HTTP and over stream connections.
type Server struct {
	service     *Service
	codec       codec.Codec
	logger      *slog.Logger
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(...(service.Dispatch)), built on first use
	buildOnce   sync.Once

	creds       protocol.Credentials // required on HTTP when set
	corsOrigins []string
	metrics     *prometheus.Registry
	maxConns    int
	httpStatus  bool // answer legacy errors with 404/500 like bitcoind

	registry    registry.Registry
	serviceName string
	advertise   registry.ServiceInstance
	ttl         int64
	advertised  sync.Once

	ctx      context.Context // parent of every stream request, cancelled on Shutdown
	cancel   context.CancelFunc
	wg       sync.WaitGroup // in-flight stream requests
	shutdown atomic.Bool

	mu        sync.Mutex
	listeners []net.Listener
	https     []*http.Server
	conns     map[net.Conn]struct{}
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAuth requires HTTP Basic credentials on every HTTP request.
func WithAuth(creds protocol.Credentials) Option {
	return func(s *Server) { s.creds = creds }
}

// WithCORS allows browser callers from origins.
func WithCORS(origins ...string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithMetrics records request metrics into reg and serves them on /metrics.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(s *Server) { s.metrics = reg }
}

// WithMaxConns caps concurrently accepted connections per listener.
func WithMaxConns(n int) Option {
	return func(s *Server) { s.maxConns = n }
}

// WithHTTPErrorStatus makes legacy error replies use HTTP 404 for unknown
// methods, 400 for malformed requests and 500 otherwise, as bitcoind does.
// V2 replies always use 200.
func WithHTTPErrorStatus(enabled bool) Option {
	return func(s *Server) { s.httpStatus = enabled }
}

// WithRegistry advertises the server under serviceName once it starts serving
// and withdraws it on Shutdown.
func WithRegistry(reg registry.Registry, serviceName string, instance registry.ServiceInstance, ttl int64) Option {
	return func(s *Server) {
		s.registry, s.serviceName, s.advertise, s.ttl = reg, serviceName, instance, ttl
	}
}

// New creates a server for svc.
func New(svc *Service, opts ...Option) *Server {
	s := &Server{
		service:  svc,
		codec:    codec.Default,
		logger:   slog.Default(),
		maxConns: 256,
		ttl:      10,
		conns:    make(map[net.Conn]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use appends a middleware. Middlewares must be added before serving starts;
// the first one added runs outermost.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

func (s *Server) chain() middleware.HandlerFunc {
	s.buildOnce.Do(func() {
		mws := s.middlewares
		if s.metrics != nil {
			m := middleware.NewMetrics()
			if err := s.metrics.Register(m); err != nil {
				s.logger.Warn("metrics not registered", slog.String("err", err.Error()))
			} else {
				mws = append([]middleware.Middleware{m.Middleware()}, mws...)
			}
		}
		s.handler = middleware.Chain(mws...)(s.service.Dispatch)
	})
	return s.handler
}

// Dispatch runs req through the middleware chain and the service.
func (s *Server) Dispatch(ctx context.Context, req *message.Request) *message.Response {
	resp := s.chain()(ctx, req)
	if resp == nil {
		resp = message.NewErrorResponse(req.ID, message.ErrInternal(errors.New("no response produced")))
		resp.Version = req.Version
	}
	return resp
}

// serveBody decodes one request body and returns the encoded reply along with
// the HTTP status to send it with.
func (s *Server) serveBody(ctx context.Context, body []byte) ([]byte, int) {
	var resp *message.Response
	req, err := s.codec.DecodeRequest(body)
	if err != nil {
		var rerr *codec.RequestError
		if !errors.As(err, &rerr) {
			rerr = &codec.RequestError{Err: message.NewError(message.CodeParseError, "Parse error")}
		}
		resp = message.NewErrorResponse(rerr.ID, rerr.Err)
	} else {
		resp = s.Dispatch(ctx, req)
	}

	out, err := s.codec.EncodeResponse(resp)
	if err != nil {
		s.logger.Error("failed to encode reply", slog.String("err", err.Error()))
		failed := message.NewErrorResponse(resp.ID, message.ErrInternal(err))
		failed.Version = resp.Version
		resp = failed
		out, _ = s.codec.EncodeResponse(resp)
	}
	return out, s.status(resp)
}

func (s *Server) status(resp *message.Response) int {
	if !s.httpStatus || resp.Error == nil || resp.Version == message.V2 {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case message.CodeMethodNotFound:
		return http.StatusNotFound
	case message.CodeParseError, message.CodeInvalidRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) limit(ln net.Listener) net.Listener {
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	return ln
}

func (s *Server) track(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return http.ErrServerClosed
	}
	s.listeners = append(s.listeners, ln)
	return nil
}

// advertiseOnce registers the server with the registry the first time any
// listener starts serving.
func (s *Server) advertiseOnce() {
	if s.registry == nil {
		return
	}
	s.advertised.Do(func() {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		if err := s.registry.Register(ctx, s.serviceName, s.advertise, s.ttl); err != nil {
			s.logger.Error("failed to advertise service",
				slog.String("service", s.serviceName),
				slog.String("addr", s.advertise.Addr),
				slog.String("err", err.Error()))
			return
		}
		s.logger.Info("service advertised", slog.String("service", s.serviceName), slog.String("addr", s.advertise.Addr))
	})
}

// Serve answers HTTP requests on ln until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
	}
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		return nil
	}
	s.https = append(s.https, srv)
	s.mu.Unlock()

	s.advertiseOnce()
	s.logger.Info("serving http", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(s.limit(ln)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// ServeStream answers newline-delimited requests on connections accepted from
// ln until Shutdown.
func (s *Server) ServeStream(ln net.Listener) error {
	ln = s.limit(ln)
	if err := s.track(ln); err != nil {
		_ = ln.Close()
		return nil
	}
	s.advertiseOnce()
	s.logger.Info("serving stream", slog.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			// Closing the listener during shutdown makes Accept fail; that is
			// the normal way out.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

// ListenAndServeStream listens on network/addr and calls ServeStream.
func (s *Server) ListenAndServeStream(network, addr string) error {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	return s.ServeStream(ln)
}

// handleConn reads frames sequentially (one reader finds frame boundaries) and
// dispatches each to its own goroutine. writeMu keeps replies from interleaving.
func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	writeMu := &sync.Mutex{}
	dec := protocol.NewDecoder(conn)
	for {
		frame, err := dec.Decode()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !s.shutdown.Load() {
				s.logger.Debug("stream connection closed", slog.String("remote", conn.RemoteAddr().String()), slog.String("err", err.Error()))
			}
			return
		}
		if !s.begin() {
			s.reject(conn, writeMu, frame)
			continue
		}
		go s.handleFrame(conn, writeMu, frame)
	}
}

// begin counts a request in flight unless shutdown has started. The flag is
// set under mu before Shutdown waits, so no Add can race that Wait.
func (s *Server) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// reject answers a frame that arrived after shutdown started.
func (s *Server) reject(conn net.Conn, writeMu *sync.Mutex, frame []byte) {
	var id message.ID
	version := message.Legacy
	req, err := s.codec.DecodeRequest(frame)
	var rerr *codec.RequestError
	switch {
	case err == nil:
		id, version = req.ID, req.Version
	case errors.As(err, &rerr):
		id = rerr.ID
	}
	resp := message.NewErrorResponse(id, message.NewError(message.CodeServerError, "server is shutting down"))
	resp.Version = version
	out, err := s.codec.EncodeResponse(resp)
	if err != nil {
		return
	}
	writeMu.Lock()
	_ = protocol.Encode(conn, out)
	writeMu.Unlock()
}

func (s *Server) handleFrame(conn net.Conn, writeMu *sync.Mutex, frame []byte) {
	ctx, hooks := withReplyHooks(s.ctx)
	out, _ := s.serveBody(ctx, frame)

	writeMu.Lock()
	err := protocol.Encode(conn, out)
	writeMu.Unlock()
	s.wg.Done()

	if err != nil {
		s.logger.Warn("failed to write reply", slog.String("remote", conn.RemoteAddr().String()), slog.String("err", err.Error()))
	}
	// Hooks may shut the server down, which waits on wg, so they run outside it.
	go hooks.run()
}

// Shutdown withdraws the registry entry, stops accepting, waits for in-flight
// requests until ctx ends and then closes remaining connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.registry != nil {
		if err := s.registry.Deregister(ctx, s.serviceName, s.advertise.Addr); err != nil {
			s.logger.Warn("failed to withdraw service", slog.String("err", err.Error()))
		}
	}

	// Set the flag before closing listeners so Accept errors read as intentional.
	s.mu.Lock()
	s.shutdown.Store(true)
	listeners, https := s.listeners, s.https
	s.mu.Unlock()

	for _, ln := range listeners {
		_ = ln.Close()
	}
	var errs []error
	for _, srv := range https {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("timeout waiting for ongoing requests to finish: %w", ctx.Err()))
	}

	s.cancel()
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	return errors.Join(errs...)
}
