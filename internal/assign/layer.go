package assign

import "math/rand"

// Layer is the weighted candidate pool of one gate position: one scalar per
// library gate, pulled towards the rewards observed when that gate was picked.
type Layer struct {
	weights []float64
}

// NewLayer draws a single uniform value and broadcasts it to every slot, so
// sampling starts uniform.
func NewLayer(rng *rand.Rand, size int) *Layer {
	w := rng.Float64()
	weights := make([]float64, size)
	for i := range weights {
		weights[i] = w
	}
	return &Layer{weights: weights}
}

func (l *Layer) Len() int {
	return len(l.weights)
}

func (l *Layer) Weights() []float64 {
	return append([]float64(nil), l.weights...)
}

// Choose runs roulette-wheel selection restricted to candidates for which
// excluded returns false. r is a uniform draw in [0,1). ok is false only when
// every candidate is excluded.
func (l *Layer) Choose(r float64, excluded func(i int) bool) (int, bool) {
	sum := 0.0
	eligible := 0
	last := -1
	for i, w := range l.weights {
		if excluded(i) {
			continue
		}
		sum += w
		eligible++
		last = i
	}
	if eligible == 0 {
		return -1, false
	}

	if sum <= 0 {
		target := int(r * float64(eligible))
		if target >= eligible {
			target = eligible - 1
		}
		for i := range l.weights {
			if excluded(i) {
				continue
			}
			if target == 0 {
				return i, true
			}
			target--
		}
		return last, true
	}

	acc := 0.0
	for i, w := range l.weights {
		if excluded(i) {
			continue
		}
		acc += w / sum
		if r < acc {
			return i, true
		}
	}
	// rounding left the cumulative mass just under r
	return last, true
}

// Update moves the chosen slot towards reward by lr.
func (l *Layer) Update(lr, reward float64, i int) {
	l.weights[i] += lr * (reward - l.weights[i])
}
