package engine

import (
	"hash/fnv"
	"math/rand/v2"
	"time"
)

// EntropySource yields the small random nudge added to the impulse score.
// Sample returns a value in [-1, 1) and must be a pure function of its
// arguments so repeated scoring of an unchanged snapshot is reproducible.
type EntropySource interface {
	Sample(conversationID string, now time.Time) float64
}

// SeededEntropy derives each sample from a fixed seed, the conversation id
// and the tick time.
type SeededEntropy struct {
	Seed uint64
}

// NewSeededEntropy returns a source for seed. A zero seed picks a random one,
// fixed for the lifetime of the process.
func NewSeededEntropy(seed int64) SeededEntropy {
	if seed == 0 {
		return SeededEntropy{Seed: rand.Uint64()}
	}
	return SeededEntropy{Seed: uint64(seed)}
}

func (s SeededEntropy) Sample(conversationID string, now time.Time) float64 {
	h := fnv.New64a()
	h.Write([]byte(conversationID))
	r := rand.New(rand.NewPCG(s.Seed^h.Sum64(), uint64(now.UnixNano())))
	return r.Float64()*2 - 1
}

// FixedEntropy always returns the same sample. Zero disables entropy.
type FixedEntropy float64

func (f FixedEntropy) Sample(string, time.Time) float64 { return float64(f) }
