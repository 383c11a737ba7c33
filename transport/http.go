package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"daemon-rpc/protocol"
)

// HTTP posts each request to the resolved endpoint. There is no session or token
// caching: credentials are attached to every request.
type HTTP struct {
	endpoint    Endpoint
	creds       protocol.Credentials
	client      *http.Client
	contentType string
	path        string // overrides the resolved URL path when set
	logger      *slog.Logger
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTP) { t.client = c }
}

// WithContentType overrides the request content type.
func WithContentType(ct string) HTTPOption {
	return func(t *HTTP) { t.contentType = ct }
}

// WithPath posts to path on the resolved host, e.g. "/wallet/alice".
func WithPath(path string) HTTPOption {
	return func(t *HTTP) { t.path = path }
}

// WithHTTPLogger sets the logger used for debug tracing.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(t *HTTP) { t.logger = l }
}

// NewHTTP creates an HTTP transport.
func NewHTTP(endpoint Endpoint, creds protocol.Credentials, opts ...HTTPOption) *HTTP {
	t := &HTTP{
		endpoint:    endpoint,
		creds:       creds,
		client:      &http.Client{Timeout: 60 * time.Second},
		contentType: "application/json",
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip posts body and returns the 2xx reply body. Non-2xx replies come back as
// *protocol.StatusError; failures to get any reply come back as *Error.
func (t *HTTP) RoundTrip(ctx context.Context, body []byte) ([]byte, error) {
	u, err := t.endpoint.Resolve(ctx)
	if err != nil {
		return nil, &Error{Op: "resolve", Err: err}
	}
	if t.path != "" {
		cp := *u
		cp.Path = t.path
		u = &cp
	}
	req, err := protocol.NewRequest(ctx, u, t.creds, t.contentType, body)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &Error{Op: "post", Endpoint: req.URL.Redacted(), Err: err}
	}
	t.logger.Debug("rpc http exchange",
		slog.String("endpoint", req.URL.Redacted()),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)))
	return protocol.ReadResponse(resp)
}

// Close releases idle connections.
func (t *HTTP) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
