package model

import "math"

const bceEpsilon = 1e-7

// binaryCrossEntropy returns the summed cross-entropy of predictions p against
// targets y, and writes scale * dLoss/dp into grad. Predictions are clipped to
// [eps, 1-eps] so saturated sigmoids yield finite values.
func binaryCrossEntropy(p, y, grad []float32, scale float64) float64 {
	sum := 0.0
	for i := range p {
		pc := math.Min(math.Max(float64(p[i]), bceEpsilon), 1-bceEpsilon)
		t := float64(y[i])
		sum -= t*math.Log(pc) + (1-t)*math.Log(1-pc)
		if grad != nil {
			grad[i] = float32(scale * (pc - t) / (pc * (1 - pc)))
		}
	}
	return sum
}
