package telemetry

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// PartitionedRNG provides deterministic, isolated RNG streams per
// subsystem. Two evolvers built from the same seed walk identical
// telemetry trajectories, which is what makes scenario runs and golden
// tests reproducible.
//
// Derivation: masterSeed XOR fnv1a64(subsystemName).
// Thread-safety: NOT thread-safe; the evolver calls it from one
// goroutine only.
type PartitionedRNG struct {
	seed       int64
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a master seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{
		seed:       seed,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named
// subsystem. The same name always returns the same *rand.Rand instance.
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.seed ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// ForNode returns the RNG stream for one node's telemetry walk.
func (p *PartitionedRNG) ForNode(nodeID string) *rand.Rand {
	return p.ForSubsystem(fmt.Sprintf("node_%s", nodeID))
}

// Seed returns the master seed this PartitionedRNG was created with.
func (p *PartitionedRNG) Seed() int64 {
	return p.seed
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
