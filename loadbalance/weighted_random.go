package loadbalance

import (
	"math/rand"

	"daemon-rpc/registry"
)

// WeightedRandomBalancer picks an instance with probability proportional to
// its weight. Instances with no positive weight are only used when none has
// one, in which case the pick is uniform.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, errEmpty()
	}

	totalWeight := 0
	for _, v := range instances {
		if v.Weight > 0 {
			totalWeight += v.Weight
		}
	}
	if totalWeight == 0 {
		inst := instances[rand.Intn(len(instances))]
		return &inst, nil
	}

	r := rand.Intn(totalWeight)
	for _, v := range instances {
		if v.Weight <= 0 {
			continue
		}
		r -= v.Weight
		if r < 0 {
			return &v, nil
		}
	}
	inst := instances[len(instances)-1]
	return &inst, nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
