package strategy

import (
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// BetaSampler draws from Beta(a, b) as X/(X+Y) with X ~ Gamma(a, 1) and
// Y ~ Gamma(b, 1). All draws share one seeded generator, so a fixed seed
// reproduces a run's selection sequence.
type BetaSampler struct {
	seed uint64
	src  *lockedSource
}

// NewBetaSampler returns a sampler seeded with seed. A zero seed is replaced by
// one derived from the current time.
func NewBetaSampler(seed uint64) *BetaSampler {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &BetaSampler{
		seed: seed,
		src:  &lockedSource{src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)},
	}
}

func (s *BetaSampler) Seed() uint64 {
	return s.seed
}

// Sample returns one draw from Beta(alpha, beta). Both parameters must be positive.
func (s *BetaSampler) Sample(alpha, beta float64) float64 {
	x := distuv.Gamma{Alpha: alpha, Beta: 1, Src: s.src}.Rand()
	y := distuv.Gamma{Alpha: beta, Beta: 1, Src: s.src}.Rand()
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// lockedSource serializes access to a PCG so concurrent requests can sample.
type lockedSource struct {
	mutex sync.Mutex
	src   *rand.PCG
}

func (l *lockedSource) Uint64() uint64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.src.Uint64()
}
