package test

import (
	"context"
	"net"
	"testing"

	"daemon-rpc/client"
	"daemon-rpc/config"
	"daemon-rpc/logs"
	"daemon-rpc/message"
	"daemon-rpc/registry"
	"daemon-rpc/server"
	"daemon-rpc/transport"
)

func setupHTTP(b *testing.B) *client.Client {
	reg := registry.NewMemoryRegistry()
	startNode(b, reg)
	waitInstances(b, reg, 1)
	list, _ := reg.Discover(context.Background(), "node")

	cfg, err := config.New("http://"+list[0].Addr, "", "", config.Regtest)
	if err != nil {
		b.Fatal(err)
	}
	cli, err := client.New(cfg, client.WithLogger(logs.Discard()))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = cli.Close() })
	return cli
}

func setupStream(b *testing.B) *client.Client {
	methods, err := server.MethodsOf(&Node{})
	if err != nil {
		b.Fatal(err)
	}
	svc, err := server.NewService(methods, server.WithServiceLogger(logs.Discard()))
	if err != nil {
		b.Fatal(err)
	}
	srv := server.New(svc, server.WithLogger(logs.Discard()))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}
	go func() { _ = srv.ServeStream(ln) }()
	b.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	stream, err := transport.DialStream(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		b.Fatal(err)
	}
	cfg, _ := config.New("tcp://"+ln.Addr().String(), "", "", config.Regtest)
	cli, err := client.New(cfg, client.WithTransport(stream), client.WithLogger(logs.Discard()))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = cli.Close() })
	return cli
}

func benchAdd(b *testing.B, cli *client.Client) {
	params := message.Positional(Args{A: 3, B: 5})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var sum int
		if err := cli.Call(context.Background(), "add", params, &sum); err != nil {
			b.Fatal(err)
		}
	}
}

func benchAddParallel(b *testing.B, cli *client.Client) {
	params := message.Positional(Args{A: 3, B: 5})
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			var sum int
			if err := cli.Call(context.Background(), "add", params, &sum); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// go test -bench=. -benchmem ./test/
func BenchmarkHTTP(b *testing.B)           { benchAdd(b, setupHTTP(b)) }
func BenchmarkHTTPParallel(b *testing.B)   { benchAddParallel(b, setupHTTP(b)) }
func BenchmarkStream(b *testing.B)         { benchAdd(b, setupStream(b)) }
func BenchmarkStreamParallel(b *testing.B) { benchAddParallel(b, setupStream(b)) }
