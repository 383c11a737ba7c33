// Package loadbalance picks one of several discovered daemon endpoints.
//
// Three strategies are implemented:
//   - RoundRobin:      interchangeable nodes of equal capacity
//   - WeightedRandom:  nodes of different capacity
//   - ConsistentHash:  wallet calls, which must keep landing on the node that
//     has the wallet loaded
package loadbalance

import (
	"fmt"

	"daemon-rpc/registry"
)

// Balancer is the interface for load balancing strategies.
// The resolver calls Pick before each RPC to select a target instance.
type Balancer interface {
	// Pick selects one instance from the available list.
	// Called on every RPC call, so it must be goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name.
func New(name string) (Balancer, error) {
	switch name {
	case "", "roundrobin", "RoundRobin":
		return &RoundRobinBalancer{}, nil
	case "weighted", "WeightedRandom":
		return &WeightedRandomBalancer{}, nil
	case "consistenthash", "ConsistentHash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("unknown balancer %q", name)
}

func errEmpty() error {
	return fmt.Errorf("pick: %w", registry.ErrNoInstances)
}
