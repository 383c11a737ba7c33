// Package registry lets servers advertise their endpoints and clients find
// them.
//
//	server.Serve -> Register(name, instance, ttl)   (lease kept alive)
//	client call  -> Resolver.Resolve -> Discover(name) -> Balancer.Pick
//	server.Shutdown -> Deregister(name, addr)
package registry

import "context"

// ServiceInstance is one advertised endpoint.
type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // Weight for load balancing
	Version string `json:"version,omitempty"`
}

// Registry is the service directory.
type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
