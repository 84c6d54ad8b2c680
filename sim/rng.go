package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// SimulationKey identifies a reproducible run. Two runs with the same key
// and configuration make identical random choices.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

const (
	// SubsystemMovement drives probabilistic device movement.
	SubsystemMovement = "movement"

	// SubsystemStart drives the server shuffle of the first-fit start mode.
	SubsystemStart = "start"
)

// SubsystemPlanner returns the subsystem name for a named planner.
func SubsystemPlanner(name string) string {
	return fmt.Sprintf("planner_%s", name)
}

// PartitionedRNG hands out one deterministic *rand.Rand per subsystem so
// that adding draws in one subsystem never shifts another's sequence.
//
// Derived seed: masterSeed XOR fnv1a64(subsystemName).
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns the cached RNG for name, creating it on first use.
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(int64(p.key) ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// Fork returns an RNG tree for a what-if copy. The fork is keyed on the
// master key mixed with label, so its draws never disturb the live run.
func (p *PartitionedRNG) Fork(label string) *PartitionedRNG {
	return NewPartitionedRNG(SimulationKey(int64(p.key) ^ fnv1a64("fork:"+label)))
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
