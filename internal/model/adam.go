package model

import "math"

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

// adam keeps first and second moment estimates per parameter.
type adam struct {
	lr   float64
	step int
	m    [][]float32
	v    [][]float32
}

func newAdam(lr float64, params []*param) *adam {
	a := &adam{lr: lr}
	for _, p := range params {
		a.m = append(a.m, make([]float32, len(p.value)))
		a.v = append(a.v, make([]float32, len(p.value)))
	}
	return a
}

func (a *adam) update(params []*param, grads [][]float32) {
	a.step++
	t := float64(a.step)
	alpha := a.lr * math.Sqrt(1-math.Pow(adamBeta2, t)) / (1 - math.Pow(adamBeta1, t))
	for i, p := range params {
		m, v, g := a.m[i], a.v[i], grads[i]
		for j := range p.value {
			m[j] = adamBeta1*m[j] + (1-adamBeta1)*g[j]
			v[j] = adamBeta2*v[j] + (1-adamBeta2)*g[j]*g[j]
			p.value[j] -= float32(alpha * float64(m[j]) / (math.Sqrt(float64(v[j])) + adamEpsilon))
		}
	}
}
