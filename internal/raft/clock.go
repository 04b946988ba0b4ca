package raft

import (
	"math/rand"
	"time"
)

// SystemClock is the production Clock backed by the wall clock. No
// ecosystem clock-abstraction library appeared anywhere in the retrieved
// dependency manifests, so this stays a thin stdlib wrapper (see DESIGN.md).
type SystemClock struct{}

// NowMillis returns the current time in milliseconds since the Unix epoch.
func (SystemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// MathRandSource is the production RandomSource used to jitter election
// timeouts, backed by math/rand for the same reason as SystemClock.
type MathRandSource struct {
	rnd *rand.Rand
}

// NewMathRandSource seeds a private *rand.Rand so concurrent nodes in the
// same process (as in tests) don't share and contend on the global source.
func NewMathRandSource(seed int64) *MathRandSource {
	return &MathRandSource{rnd: rand.New(rand.NewSource(seed))}
}

// IntN returns a pseudo-random number in [0, n).
func (s *MathRandSource) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return s.rnd.Intn(n)
}
