package statistic

import "math"

// Welford accumulates mean and variance in a single pass without storing samples.
// The zero value is ready to use.
type Welford struct {
	count int64
	mean  float64
	m2    float64
}

// Update folds one sample into the running moments.
func (w *Welford) Update(value float64) {
	w.count++
	delta := value - w.mean
	w.mean += delta / float64(w.count)
	delta2 := value - w.mean
	w.m2 += delta * delta2
}

func (w *Welford) Count() int64 { return w.count }

func (w *Welford) Mean() float64 {
	if w.count == 0 {
		return 0
	}
	return w.mean
}

// Variance is the population variance of the samples seen so far.
func (w *Welford) Variance() float64 {
	if w.count == 0 {
		return 0
	}
	return w.m2 / float64(w.count)
}

func (w *Welford) StdDev() float64 {
	return math.Sqrt(w.Variance())
}
