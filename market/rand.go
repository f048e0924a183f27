package market

import (
	"math"
	"math/rand"
)

// Rand is the random source behind the synthetic market. It wraps a
// seeded math/rand generator so a run can be replayed exactly.
type Rand struct {
	r *rand.Rand
}

// NewRand returns a Rand seeded with seed.
func NewRand(seed int64) *Rand {
	return &Rand{r: rand.New(rand.NewSource(seed))}
}

// Float64 returns a uniform sample in [0, 1).
func (r *Rand) Float64() float64 {
	return r.r.Float64()
}

// Intn returns a uniform integer in [0, n).
func (r *Rand) Intn(n int) int {
	return r.r.Intn(n)
}

// nonZero draws until the sample is strictly positive, log(0) is undefined.
func (r *Rand) nonZero() float64 {
	u := 0.0
	for u == 0 {
		u = r.r.Float64()
	}
	return u
}

// Norm returns a standard normal sample using the Box-Muller transform.
func (r *Rand) Norm() float64 {
	u := r.nonZero()
	v := r.nonZero()
	return math.Sqrt(-2.0*math.Log(u)) * math.Cos(2.0*math.Pi*v)
}
