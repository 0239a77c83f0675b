// Package rng provides independently seedable random streams for simulations.
package rng

import (
	"math/rand"
	"sync/atomic"
	"time"
)

// seedStride spaces derived seeds apart so neighbouring runs do not share
// low-order seed bits.
const seedStride = 7919

var freshCounter atomic.Int64

// New returns a stream seeded with seed. A zero seed is replaced with 1 so
// that the zero value never silently aliases another stream.
func New(seed int64) *rand.Rand {
	if seed == 0 {
		seed = 1
	}
	return rand.New(rand.NewSource(seed))
}

// Fresh returns a seed that differs between calls, for production use where
// reproducibility is not requested.
func Fresh() int64 {
	seed := time.Now().UnixNano() ^ (freshCounter.Add(1) * 0x5DEECE66D)
	if seed == 0 {
		seed = 1
	}
	return seed
}

// Resolve returns seed unchanged, or a fresh seed when seed is zero.
func Resolve(seed int64) int64 {
	if seed == 0 {
		return Fresh()
	}
	return seed
}

// Derive returns the seed of the i-th child stream of base. The mapping only
// depends on (base, i), so work can be split across goroutines in any order.
func Derive(base int64, i int) int64 {
	seed := mix(base + int64(i)*seedStride)
	if seed == 0 {
		seed = 1
	}
	return seed
}

// Derive2 returns the seed of the (i, j)-th child stream of base.
func Derive2(base int64, i, j int) int64 {
	return Derive(Derive(base, i), j+1)
}

// Between returns a uniform value in [lo, hi).
func Between(r *rand.Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

// Chance returns true with probability p.
func Chance(r *rand.Rand, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return r.Float64() < p
}

// mix is the splitmix64 finalizer.
func mix(x int64) int64 {
	z := uint64(x) + 0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return int64(z ^ (z >> 31))
}
