package bids

import "math"

// hrf samples the SPM canonical double-gamma response at rate Hz over 32s,
// normalized to unit sum.
func hrf(rate float64) []float64 {
	const (
		peak       = 6.0
		undershoot = 16.0
		ratio      = 1.0 / 6
		length     = 32.0
	)
	n := int(length*rate) + 1
	kernel := make([]float64, n)
	var sum float64
	for i := range kernel {
		t := float64(i) / rate
		kernel[i] = gammaPDF(t, peak) - ratio*gammaPDF(t, undershoot)
		sum += kernel[i]
	}
	if sum != 0 {
		for i := range kernel {
			kernel[i] /= sum
		}
	}
	return kernel
}

func gammaPDF(t, shape float64) float64 {
	if t <= 0 {
		return 0
	}
	lg, _ := math.Lgamma(shape)
	return math.Exp((shape-1)*math.Log(t) - t - lg)
}

// convolve returns the causal convolution of x with kernel, truncated to
// len(x).
func convolve(x, kernel []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if v == 0 {
			continue
		}
		for k, h := range kernel {
			if i+k >= len(out) {
				break
			}
			out[i+k] += v * h
		}
	}
	return out
}
