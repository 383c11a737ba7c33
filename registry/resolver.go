package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// ErrNoInstances is returned when a service has nothing registered.
var ErrNoInstances = errors.New("no instances registered")

// Picker chooses one instance per call. loadbalance balancers satisfy it.
type Picker interface {
	Pick(instances []ServiceInstance) (*ServiceInstance, error)
}

// KeyedPicker pins a key to an instance. loadbalance.ConsistentHashBalancer
// satisfies it.
type KeyedPicker interface {
	PickKey(key string, instances []ServiceInstance) (*ServiceInstance, error)
}

type affinityKey struct{}

// WithAffinity asks the resolver to route calls made with ctx by key, so that
// every call for one wallet reaches the same node.
func WithAffinity(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, affinityKey{}, key)
}

// Affinity returns the key set by WithAffinity, or "".
func Affinity(ctx context.Context) string {
	k, _ := ctx.Value(affinityKey{}).(string)
	return k
}

// Resolver turns a service name into an endpoint URL on every call, so a
// client follows instances as they come and go.
type Resolver struct {
	Registry Registry
	Service  string
	Picker   Picker
	Scheme   string // defaults to http
}

// Resolve discovers the service and picks one instance.
func (r *Resolver) Resolve(ctx context.Context) (*url.URL, error) {
	instances, err := r.Registry.Discover(ctx, r.Service)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", r.Service, err)
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("discover %s: %w", r.Service, ErrNoInstances)
	}
	var inst *ServiceInstance
	if kp, ok := r.Picker.(KeyedPicker); ok && Affinity(ctx) != "" {
		inst, err = kp.PickKey(Affinity(ctx), instances)
	} else {
		inst, err = r.Picker.Pick(instances)
	}
	if err != nil {
		return nil, fmt.Errorf("pick %s instance: %w", r.Service, err)
	}
	scheme := r.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return &url.URL{Scheme: scheme, Host: inst.Addr, Path: "/"}, nil
}
