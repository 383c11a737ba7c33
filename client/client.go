// Package client issues JSON-RPC calls to a remote daemon.
//
// A call travels through:
//
//	Call / CallAsync
//	    |  fresh id, params shaped
//	interceptors (timeout, retry, ...)
//	    |
//	codec.EncodeRequest -> transport.RoundTrip -> codec.DecodeResponse
//	    |  id checked against the outstanding request
//	result or typed error (see KindOf)
//
// Every call runs on the async pool, so CallAsync returns immediately and many
// calls can be in flight on one Client.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"daemon-rpc/async"
	"daemon-rpc/codec"
	"daemon-rpc/config"
	"daemon-rpc/message"
	"daemon-rpc/protocol"
	"daemon-rpc/registry"
	"daemon-rpc/transport"
)

// Invoker performs one request/response exchange.
type Invoker func(ctx context.Context, req *message.Request) (*message.Response, error)

// Interceptor wraps an Invoker, in the same spirit as server middleware.
type Interceptor func(next Invoker) Invoker

type Client struct {
	cfg       config.RPCConfig
	transport transport.Transport
	codec     codec.Codec
	version   message.Version
	pool      *async.Pool
	logger    *slog.Logger
	ids       IDGenerator
	wallet    string
	invoke    Invoker

	mu          sync.Mutex
	outstanding map[message.ID]string // id -> method, for calls awaiting a reply
}

// Option configures a Client.
type Option func(*options)

type options struct {
	transport    transport.Transport
	httpClient   *http.Client
	version      message.Version
	pool         *async.Pool
	logger       *slog.Logger
	ids          IDGenerator
	interceptors []Interceptor
	resolver     transport.Endpoint
	wallet       string
}

// WithTransport replaces the transport derived from the config URL.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithHTTPClient sets the *http.Client used by the default HTTP transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithVersion selects the envelope dialect. The default is message.Legacy,
// which every bitcoind release understands.
func WithVersion(v message.Version) Option {
	return func(o *options) { o.version = v }
}

// WithPool bounds how many calls may be in flight at once.
func WithPool(p *async.Pool) Option {
	return func(o *options) { o.pool = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithIDGenerator replaces the sequential id counter.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithInterceptors installs interceptors; the first one is outermost.
func WithInterceptors(is ...Interceptor) Option {
	return func(o *options) { o.interceptors = append(o.interceptors, is...) }
}

// WithResolver makes the HTTP transport resolve its endpoint per call, e.g.
// through registry discovery, instead of using the config URL.
func WithResolver(r transport.Endpoint) Option {
	return func(o *options) { o.resolver = r }
}

// WithWallet sends every call to the daemon's /wallet/{name} endpoint and,
// with a registry resolver, keeps the calls on the node holding that wallet.
func WithWallet(name string) Option {
	return func(o *options) { o.wallet = name }
}

// New creates a client for cfg. A tcp:// URL selects the newline-delimited
// stream transport and dials immediately; anything else posts over HTTP.
func New(cfg config.RPCConfig, opts ...Option) (*Client, error) {
	o := options{
		version: message.Legacy,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ids == nil {
		o.ids = &SequentialIDs{}
	}

	t := o.transport
	if t == nil {
		var err error
		if t, err = defaultTransport(cfg, &o); err != nil {
			return nil, err
		}
	}

	c := &Client{
		cfg:         cfg,
		transport:   t,
		codec:       codec.Default,
		version:     o.version,
		pool:        o.pool,
		logger:      o.logger,
		ids:         o.ids,
		wallet:      o.wallet,
		outstanding: make(map[message.ID]string),
	}
	c.invoke = c.roundTrip
	for i := len(o.interceptors) - 1; i >= 0; i-- {
		c.invoke = o.interceptors[i](c.invoke)
	}
	return c, nil
}

func defaultTransport(cfg config.RPCConfig, o *options) (transport.Transport, error) {
	endpoint := o.resolver
	if endpoint == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if cfg.URI.Scheme == "tcp" {
			return transport.DialStream(context.Background(), "tcp", cfg.URI.Host,
				transport.WithStreamLogger(o.logger))
		}
		endpoint = transport.Static{URL: cfg.Endpoint()}
	}
	creds := protocol.Credentials{Username: cfg.Username, Password: cfg.Password}
	httpOpts := []transport.HTTPOption{transport.WithHTTPLogger(o.logger)}
	if o.httpClient != nil {
		httpOpts = append(httpOpts, transport.WithHTTPClient(o.httpClient))
	}
	if o.wallet != "" {
		httpOpts = append(httpOpts, transport.WithPath("/wallet/"+url.PathEscape(o.wallet)))
	}
	return transport.NewHTTP(endpoint, creds, httpOpts...), nil
}

// Config returns the config the client was built from.
func (c *Client) Config() config.RPCConfig { return c.cfg }

// Close releases the transport. Calls still in flight fail.
func (c *Client) Close() error { return c.transport.Close() }

// Call invokes method with params and decodes the result into result, which may
// be nil to discard it.
func (c *Client) Call(ctx context.Context, method string, params message.Params, result any) error {
	f := c.CallAsync(ctx, method, params)
	raw, err := f.Await(ctx)
	if err != nil {
		f.Cancel()
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// CallNamed is Call with key->value params.
func (c *Client) CallNamed(ctx context.Context, method string, params map[string]any, result any) error {
	return c.Call(ctx, method, message.Named(params), result)
}

// CallAsync schedules the call on the pool and returns at once. The future
// resolves to the raw result, or fails with a transport, status, protocol or
// application error.
func (c *Client) CallAsync(ctx context.Context, method string, params message.Params) *async.Future[json.RawMessage] {
	req := &message.Request{
		ID:      c.ids.Next(),
		Method:  method,
		Params:  params,
		Version: c.version,
	}
	if c.wallet != "" {
		ctx = registry.WithAffinity(ctx, c.wallet)
	}
	return async.Go(ctx, c.pool, func(ctx context.Context) (json.RawMessage, error) {
		resp, err := c.invoke(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	})
}

// Outstanding reports how many calls are waiting for a reply.
func (c *Client) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outstanding)
}

func (c *Client) track(req *message.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.outstanding[req.ID]; ok {
		return fmt.Errorf("id %s already in flight", req.ID)
	}
	c.outstanding[req.ID] = req.Method
	return nil
}

func (c *Client) untrack(id message.ID) {
	c.mu.Lock()
	delete(c.outstanding, id)
	c.mu.Unlock()
}

// roundTrip is the innermost Invoker.
func (c *Client) roundTrip(ctx context.Context, req *message.Request) (*message.Response, error) {
	body, err := c.codec.EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Method, err)
	}
	if err := c.track(req); err != nil {
		return nil, err
	}
	defer c.untrack(req.ID)

	raw, err := c.transport.RoundTrip(ctx, body)
	if err != nil {
		c.logger.Debug("rpc call failed", slog.String("method", req.Method), slog.String("id", req.ID.String()), slog.String("err", err.Error()))
		return nil, err
	}
	resp, err := c.codec.DecodeResponse(raw)
	if err != nil {
		return nil, err
	}
	// A server that could not read the id answers with a null one; that error
	// still belongs to this call.
	if resp.Failed() && resp.ID.IsNull() {
		return resp, nil
	}
	if err := codec.CheckID(req.ID, resp.ID); err != nil {
		return nil, err
	}
	return resp, nil
}
