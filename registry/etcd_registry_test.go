package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// etcdEndpoints returns the endpoints from DAEMONRPC_ETCD or skips the test.
func etcdEndpoints(t *testing.T) []string {
	t.Helper()
	v := os.Getenv("DAEMONRPC_ETCD")
	if v == "" {
		t.Skip("DAEMONRPC_ETCD not set")
	}
	return strings.Split(v, ",")
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t))
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()
	ctx := context.Background()

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, "node", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "node", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, "node")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, "node", inst1.Addr); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover(ctx, "node")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("expect only %s after deregister, got %v", inst2.Addr, instances)
	}

	_ = reg.Deregister(ctx, "node", inst2.Addr)
}

func TestEtcdWatch(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t))
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := reg.Watch(ctx, "watched")
	time.Sleep(100 * time.Millisecond)
	if err := reg.Register(ctx, "watched", ServiceInstance{Addr: "127.0.0.1:9001"}, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(context.Background(), "watched", "127.0.0.1:9001")

	select {
	case list := <-updates:
		if len(list) != 1 {
			t.Fatalf("expect 1 instance, got %v", list)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch produced no update")
	}
}
