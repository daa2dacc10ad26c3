package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestConv2DIdentityKernel(t *testing.T) {
	conv := newConv2D("id", 1, 1, 3, linear, rand.NewSource(1))
	for i := range conv.kernel.value {
		conv.kernel.value[i] = 0
	}
	conv.kernel.value[4] = 1 // centre tap

	d := dims{h: 3, w: 3, c: 1}
	in := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	out := make([]float32, 9)
	conv.forward(in, d, out, make([]float32, conv.scratchSize(d)))

	assert.Equal(t, in, out)
}

func TestConv2DSamePadding(t *testing.T) {
	conv := newConv2D("ones", 1, 1, 3, linear, rand.NewSource(1))
	for i := range conv.kernel.value {
		conv.kernel.value[i] = 1
	}
	conv.bias.value[0] = 0.5

	d := dims{h: 3, w: 3, c: 1}
	in := []float32{1, 1, 1, 1, 1, 1, 1, 1, 1}
	out := make([]float32, 9)
	conv.forward(in, d, out, make([]float32, conv.scratchSize(d)))

	// corners see 4 pixels, edges 6, the centre 9
	assert.Equal(t, []float32{4.5, 6.5, 4.5, 6.5, 9.5, 6.5, 4.5, 6.5, 4.5}, out)
}

func TestConv2DReluClampsNegative(t *testing.T) {
	conv := newConv2D("relu", 1, 1, 3, relu, rand.NewSource(1))
	for i := range conv.kernel.value {
		conv.kernel.value[i] = 0
	}
	conv.bias.value[0] = -1

	d := dims{h: 2, w: 2, c: 1}
	out := make([]float32, 4)
	conv.forward([]float32{1, 2, 3, 4}, d, out, make([]float32, conv.scratchSize(d)))
	assert.Equal(t, []float32{0, 0, 0, 0}, out)
}

func TestMaxPool2D(t *testing.T) {
	pool := &maxPool2D{name: "pool"}
	d := dims{h: 4, w: 4, c: 1}
	in := []float32{
		1, 2, 5, 0,
		3, 4, 1, 1,
		0, 0, 9, 8,
		0, 7, 8, 9,
	}
	require.Equal(t, dims{h: 2, w: 2, c: 1}, pool.outDims(d))
	out := make([]float32, 4)
	pool.forward(in, d, out, nil)
	assert.Equal(t, []float32{4, 5, 7, 9}, out)

	dIn := make([]float32, 16)
	pool.backward(in, out, []float32{1, 2, 3, 4}, d, dIn, nil, nil)
	want := []float32{
		0, 0, 2, 0,
		0, 1, 0, 0,
		0, 0, 4, 0,
		0, 3, 0, 0,
	}
	assert.Equal(t, want, dIn)
}

func TestMaxPool2DOddEdges(t *testing.T) {
	pool := &maxPool2D{name: "pool"}
	d := dims{h: 3, w: 3, c: 1}
	require.Equal(t, dims{h: 2, w: 2, c: 1}, pool.outDims(d))
	out := make([]float32, 4)
	pool.forward([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, d, out, nil)
	assert.Equal(t, []float32{5, 6, 8, 9}, out)
}

func TestUpSampling2D(t *testing.T) {
	up := &upSampling2D{name: "up"}
	d := dims{h: 1, w: 2, c: 2}
	in := []float32{1, 10, 2, 20}
	od := up.outDims(d)
	require.Equal(t, dims{h: 2, w: 4, c: 2}, od)

	out := make([]float32, od.size())
	up.forward(in, d, out, nil)
	assert.Equal(t, []float32{1, 10, 1, 10, 2, 20, 2, 20, 1, 10, 1, 10, 2, 20, 2, 20}, out)

	dOut := make([]float32, od.size())
	for i := range dOut {
		dOut[i] = 1
	}
	dIn := make([]float32, d.size())
	up.backward(nil, nil, dOut, d, dIn, nil, nil)
	assert.Equal(t, []float32{4, 4, 4, 4}, dIn)
}

func TestConv2DGradients(t *testing.T) {
	conv := newConv2D("g", 2, 1, 3, sigmoid, rand.NewSource(5))
	conv.bias.value[0] = 0.1
	d := dims{h: 4, w: 4, c: 2}
	r := rand.New(rand.NewSource(9))
	in := make([]float32, d.size())
	for i := range in {
		in[i] = r.Float32()
	}
	target := make([]float32, 16)
	for i := range target {
		target[i] = r.Float32()
	}
	scale := 1.0 / 16

	scratch := make([]float32, conv.scratchSize(d))
	out := make([]float32, 16)
	loss := func() float64 {
		conv.forward(in, d, out, scratch)
		return binaryCrossEntropy(out, target, nil, 0) * scale
	}

	conv.forward(in, d, out, scratch)
	dOut := make([]float32, 16)
	binaryCrossEntropy(out, target, dOut, scale)
	grads := [][]float32{make([]float32, len(conv.kernel.value)), make([]float32, 1)}
	dIn := make([]float32, d.size())
	conv.backward(in, out, dOut, d, dIn, scratch, grads)

	const eps = 1e-2
	check := func(name string, v []float32, i int, analytic float32) {
		orig := v[i]
		v[i] = orig + eps
		plus := loss()
		v[i] = orig - eps
		minus := loss()
		v[i] = orig
		numeric := (plus - minus) / (2 * eps)
		tol := 1e-3 + 1e-2*math.Abs(numeric)
		assert.InDelta(t, numeric, float64(analytic), tol, "%s[%d]", name, i)
	}
	for i := range conv.kernel.value {
		check("kernel", conv.kernel.value, i, grads[0][i])
	}
	check("bias", conv.bias.value, 0, grads[1][0])
	for i := range in {
		check("input", in, i, dIn[i])
	}
}

func TestBinaryCrossEntropySaturated(t *testing.T) {
	grad := make([]float32, 2)
	loss := binaryCrossEntropy([]float32{1, 0}, []float32{0, 1}, grad, 1)
	assert.False(t, math.IsInf(loss, 0) || math.IsNaN(loss))
	for _, g := range grad {
		assert.False(t, math.IsInf(float64(g), 0) || math.IsNaN(float64(g)))
	}
}
