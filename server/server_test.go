package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"daemon-rpc/client"
	"daemon-rpc/config"
	"daemon-rpc/logs"
	"daemon-rpc/message"
	"daemon-rpc/protocol"
	"daemon-rpc/registry"
	"daemon-rpc/transport"
)

func testService(t *testing.T, extra ...Method) *Service {
	t.Helper()
	methods := append([]Method{
		echo(),
		{Name: "getblockcount", Summary: "getblockcount", Handler: Func(func(context.Context, message.Params) (any, error) {
			return 123, nil
		})},
		{Name: "sleep", Summary: "sleep ms", Handler: Func(func(ctx context.Context, p message.Params) (any, error) {
			var ms int
			if _, err := p.Arg(0, &ms); err != nil {
				return nil, message.ErrInvalidParams(err.Error())
			}
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return ms, nil
		})},
		{Name: "getwalletinfo", Handler: Func(func(ctx context.Context, _ message.Params) (any, error) {
			return map[string]string{"walletname": Wallet(ctx)}, nil
		})},
	}, extra...)
	return mustService(t, methods)
}

func httpClient(t *testing.T, rawURL, user, pass string, opts ...client.Option) *client.Client {
	t.Helper()
	cfg, err := config.New(rawURL, user, pass, config.Regtest)
	if err != nil {
		t.Fatal(err)
	}
	c, err := client.New(cfg, append([]client.Option{client.WithLogger(logs.Discard())}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestHTTPRoundTrip(t *testing.T) {
	srv := New(testService(t), WithLogger(logs.Discard()), WithAuth(protocol.Credentials{Username: "user", Password: "pass"}))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := httpClient(t, strings.Replace(ts.URL, "http://", "http://user:pass@", 1), "", "")
	n, err := c.GetBlockCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 123 {
		t.Fatalf("expect 123, got %d", n)
	}

	err = c.Call(context.Background(), "nosuchmethod", message.Positional(1), nil)
	if code, _ := client.StatusCode(err); client.KindOf(err) != client.KindApplication || code != message.CodeMethodNotFound {
		t.Fatalf("expect method not found, got %v", err)
	}

	v2 := httpClient(t, ts.URL, "user", "pass", client.WithVersion(message.V2))
	text, err := v2.Help(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "getblockcount") || !strings.Contains(text, "help") {
		t.Fatalf("unexpected help text %q", text)
	}
}

func TestHTTPRejectsBadCredentials(t *testing.T) {
	srv := New(testService(t), WithLogger(logs.Discard()), WithAuth(protocol.Credentials{Username: "user", Password: "pass"}))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := httpClient(t, ts.URL, "user", "wrong")
	err := c.Call(context.Background(), "getblockcount", message.Positional(), nil)
	var serr *protocol.StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusUnauthorized {
		t.Fatalf("expect 401 status error, got %v", err)
	}
}

func TestHTTPMalformedBody(t *testing.T) {
	srv := New(testService(t), WithLogger(logs.Discard()))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for body, code := range map[string]string{
		`{"method":`:                          `"code":-32700`,
		`[{"method":"echo","id":1}]`:          `"code":-32700`,
		`{"params":[],"id":1}`:                `"code":-32600`,
		`{"method":"echo","params":5,"id":1}`: `"code":-32602`,
	} {
		resp, err := http.Post(ts.URL, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		out, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(out), code) {
			t.Fatalf("body %s: expect %s, got %d %s", body, code, resp.StatusCode, out)
		}
	}
}

func TestHTTPErrorStatus(t *testing.T) {
	srv := New(testService(t), WithLogger(logs.Discard()), WithHTTPErrorStatus(true))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := httpClient(t, ts.URL, "", "")
	err := c.Call(context.Background(), "nosuchmethod", message.Positional(), nil)
	var serr *protocol.StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusNotFound {
		t.Fatalf("expect 404, got %v", err)
	}
	if rpcErr, ok := client.RPCError(err); !ok || rpcErr.Code != message.CodeMethodNotFound {
		t.Fatalf("expect -32601 in the body, got %v", rpcErr)
	}

	v2 := httpClient(t, ts.URL, "", "", client.WithVersion(message.V2))
	err = v2.Call(context.Background(), "nosuchmethod", message.Positional(), nil)
	if client.KindOf(err) != client.KindApplication {
		t.Fatalf("expect v2 errors to use 200, got %v", err)
	}
}

func TestHTTPWalletPath(t *testing.T) {
	srv := New(testService(t), WithLogger(logs.Discard()))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := httpClient(t, ts.URL, "", "", client.WithWallet("alice"))
	var info map[string]string
	if err := c.Call(context.Background(), "getwalletinfo", message.Positional(), &info); err != nil {
		t.Fatal(err)
	}
	if info["walletname"] != "alice" {
		t.Fatalf("expect wallet alice, got %v", info)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := New(testService(t), WithLogger(logs.Discard()), WithMetrics(reg))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := httpClient(t, ts.URL, "", "")
	if _, err := c.GetBlockCount(context.Background()); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `daemon_rpc_requests_total{code="",method="getblockcount",outcome="ok"} 1`) {
		t.Fatalf("expect request counter in metrics, got:\n%s", body)
	}
}

func TestCORS(t *testing.T) {
	srv := New(testService(t), WithLogger(logs.Discard()), WithCORS("https://explorer.example"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/", nil)
	req.Header.Set("Origin", "https://explorer.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://explorer.example" {
		t.Fatalf("expect CORS origin header, got %q", got)
	}
}

func TestStopRepliesBeforeShutdown(t *testing.T) {
	stopped := make(chan struct{})
	var once sync.Once
	var srv *Server
	srv = New(testService(t, StopMethod(func() {
		_ = srv.Shutdown(context.Background())
		once.Do(func() { close(stopped) })
	})), WithLogger(logs.Discard()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	c := httpClient(t, "http://"+ln.Addr().String(), "", "")
	msg, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop must be answered before shutdown, got %v", err)
	}
	if msg != "daemon-rpc stopping" {
		t.Fatalf("unexpected stop reply %q", msg)
	}

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown never ran")
	}
	if err := <-serveErr; err != nil {
		t.Fatalf("expect clean serve exit, got %v", err)
	}
}

func startStream(t *testing.T, srv *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.ServeStream(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return ln.Addr().String()
}

func TestStreamRepliesOutOfOrder(t *testing.T) {
	srv := New(testService(t), WithLogger(logs.Discard()))
	addr := startStream(t, srv)

	stream, err := transport.DialStream(context.Background(), "tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	c := httpClient(t, "http://unused:1", "", "", client.WithTransport(stream))

	slow := c.CallAsync(context.Background(), "sleep", message.Positional(300))
	time.Sleep(20 * time.Millisecond)
	fast := c.CallAsync(context.Background(), "sleep", message.Positional(1))

	select {
	case <-fast.Done():
	case <-slow.Done():
		t.Fatal("slow call finished first; requests on one connection were serialized")
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
	if raw, err := fast.Await(context.Background()); err != nil || string(raw) != "1" {
		t.Fatalf("fast call: %s %v", raw, err)
	}
	if raw, err := slow.Await(context.Background()); err != nil || string(raw) != "300" {
		t.Fatalf("slow call: %s %v", raw, err)
	}
}

func TestStreamViaConfigURL(t *testing.T) {
	srv := New(testService(t), WithLogger(logs.Discard()))
	addr := startStream(t, srv)

	c := httpClient(t, "tcp://"+addr, "", "")
	n, err := c.GetBlockCount(context.Background())
	if err != nil || n != 123 {
		t.Fatalf("expect 123, got %d %v", n, err)
	}
}

func TestRegistryAdvertisement(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	srv := New(testService(t), WithLogger(logs.Discard()),
		WithRegistry(reg, "node", registry.ServiceInstance{Addr: addr, Weight: 1}, 10))
	go func() { _ = srv.Serve(ln) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		list, _ := reg.Discover(context.Background(), "node")
		if len(list) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never advertised itself")
		}
		time.Sleep(5 * time.Millisecond)
	}

	picker := &registry.Resolver{Registry: reg, Service: "node", Picker: &roundRobinOne{}}
	c := httpClient(t, "http://unused:1", "", "", client.WithResolver(picker))
	if n, err := c.GetBlockCount(context.Background()); err != nil || n != 123 {
		t.Fatalf("expect 123 through the resolver, got %d %v", n, err)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if list, _ := reg.Discover(context.Background(), "node"); len(list) != 0 {
		t.Fatalf("expect withdrawal on shutdown, got %v", list)
	}
}

type roundRobinOne struct{}

func (roundRobinOne) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	return &instances[0], nil
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	srv := New(testService(t), WithLogger(logs.Discard()))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.ServeStream(ln) }()

	stream, err := transport.DialStream(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	c := httpClient(t, "http://unused:1", "", "", client.WithTransport(stream))
	f := c.CallAsync(context.Background(), "sleep", message.Positional(100))
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if raw, err := f.Await(context.Background()); err != nil || string(raw) != "100" {
		t.Fatalf("in-flight call should complete, got %s %v", raw, err)
	}
}

func TestStreamRejectsRequestsAfterShutdownStarts(t *testing.T) {
	srv := New(testService(t), WithLogger(logs.Discard()))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.ServeStream(ln) }()

	stream, err := transport.DialStream(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	c := httpClient(t, "http://unused:1", "", "", client.WithTransport(stream))
	slow := c.CallAsync(context.Background(), "sleep", message.Positional(300))
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- srv.Shutdown(ctx)
	}()
	deadline := time.Now().Add(time.Second)
	for !srv.shutdown.Load() {
		if time.Now().After(deadline) {
			t.Fatal("shutdown never started")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = c.Call(ctx, "sleep", message.Positional(1), nil)
	rpcErr, ok := client.RPCError(err)
	if !ok || rpcErr.Code != message.CodeServerError {
		t.Fatalf("expect a shutting down error, got %v", err)
	}

	if raw, err := slow.Await(context.Background()); err != nil || string(raw) != "300" {
		t.Fatalf("in-flight call should complete, got %s %v", raw, err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
