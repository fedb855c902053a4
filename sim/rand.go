package sim

import (
	"math/rand/v2"
	"sync"
)

// Source supplies uniform draws in [0, 1). Every random choice the simulator
// makes goes through a Source so tests can pin it.
type Source interface {
	Float64() float64
}

type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// NewSource returns a goroutine-safe PCG source. A zero seed picks a random
// one.
func NewSource(seed uint64) Source {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &lockedSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

type fixed float64

func (f fixed) Float64() float64 { return float64(f) }

// Fixed returns a Source that always draws v.
func Fixed(v float64) Source { return fixed(v) }

type sequence struct {
	mu sync.Mutex
	vs []float64
	i  int
}

// Sequence returns a Source that cycles through vs.
func Sequence(vs ...float64) Source {
	if len(vs) == 0 {
		vs = []float64{0}
	}
	return &sequence{vs: vs}
}

func (s *sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vs[s.i%len(s.vs)]
	s.i++
	return v
}
