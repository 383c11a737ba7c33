package loadbalance

import (
	"sync/atomic"

	"daemon-rpc/registry"
)

// RoundRobinBalancer cycles through instances in order.
// An atomic counter keeps it lock-free and goroutine-safe.
type RoundRobinBalancer struct {
	counter atomic.Uint64 // incremented on each Pick
}

// Pick selects the next instance in round-robin order.
func (b *RoundRobinBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, errEmpty()
	}
	index := (b.counter.Add(1) - 1) % uint64(len(instances))
	inst := instances[index]
	return &inst, nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
