package model

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/stat/distuv"
)

// dims is the height, width and channel count of one sample's activation,
// stored row-major as [h][w][c].
type dims struct {
	h, w, c int
}

func (d dims) size() int { return d.h * d.w * d.c }

type param struct {
	name  string
	value []float32
}

// layer is one stage of the network operating on a single sample. Scratch
// memory is owned by the caller so that several workers can run the same
// layer concurrently.
type layer interface {
	label() string
	outDims(in dims) dims
	scratchSize(in dims) int
	forward(in []float32, inDims dims, out, scratch []float32)
	// backward consumes dOut, writes the input gradient into dIn when it is
	// non-nil, and accumulates parameter gradients into grads. scratch must be
	// the buffer used by the matching forward call.
	backward(in, out, dOut []float32, inDims dims, dIn, scratch []float32, grads [][]float32)
	params() []*param
}

type activation int

const (
	linear activation = iota
	relu
	sigmoid
)

func (a activation) apply(v []float32) {
	switch a {
	case relu:
		for i, x := range v {
			if x < 0 {
				v[i] = 0
			}
		}
	case sigmoid:
		for i, x := range v {
			v[i] = float32(1 / (1 + math.Exp(-float64(x))))
		}
	}
}

// grad scales dOut in place by the activation derivative, expressed in terms
// of the activation output y.
func (a activation) grad(y, dOut []float32) {
	switch a {
	case relu:
		for i, v := range y {
			if v <= 0 {
				dOut[i] = 0
			}
		}
	case sigmoid:
		for i, v := range y {
			dOut[i] *= v * (1 - v)
		}
	}
}

// conv2D is a stride-1 convolution with "same" zero padding. The kernel is
// laid out [k][k][inC][outC] so that im2col rows multiply it directly.
type conv2D struct {
	name      string
	inC, outC int
	k         int
	act       activation
	kernel    *param
	bias      *param
}

func newConv2D(name string, inC, outC, k int, act activation, src rand.Source) *conv2D {
	fanIn := float64(k * k * inC)
	fanOut := float64(k * k * outC)
	limit := math.Sqrt(6 / (fanIn + fanOut))
	u := distuv.Uniform{Min: -limit, Max: limit, Src: src}

	kernel := make([]float32, k*k*inC*outC)
	for i := range kernel {
		kernel[i] = float32(u.Rand())
	}
	return &conv2D{
		name:   name,
		inC:    inC,
		outC:   outC,
		k:      k,
		act:    act,
		kernel: &param{name: name + "/kernel", value: kernel},
		bias:   &param{name: name + "/bias", value: make([]float32, outC)},
	}
}

func (l *conv2D) label() string        { return l.name }
func (l *conv2D) params() []*param     { return []*param{l.kernel, l.bias} }
func (l *conv2D) outDims(in dims) dims { return dims{h: in.h, w: in.w, c: l.outC} }

func (l *conv2D) scratchSize(in dims) int {
	return 2 * in.h * in.w * l.k * l.k * l.inC
}

func (l *conv2D) forward(in []float32, inDims dims, out, scratch []float32) {
	n := inDims.h * inDims.w
	kk := l.k * l.k * l.inC
	cols := scratch[:n*kk]
	l.im2col(in, inDims, cols)

	for row := 0; row < n; row++ {
		copy(out[row*l.outC:(row+1)*l.outC], l.bias.value)
	}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: n, Cols: kk, Stride: kk, Data: cols},
		blas32.General{Rows: kk, Cols: l.outC, Stride: l.outC, Data: l.kernel.value},
		1,
		blas32.General{Rows: n, Cols: l.outC, Stride: l.outC, Data: out[:n*l.outC]},
	)
	l.act.apply(out[:n*l.outC])
}

func (l *conv2D) backward(in, out, dOut []float32, inDims dims, dIn, scratch []float32, grads [][]float32) {
	n := inDims.h * inDims.w
	kk := l.k * l.k * l.inC
	cols := scratch[:n*kk]
	dz := dOut[:n*l.outC]
	l.act.grad(out[:n*l.outC], dz)

	dzm := blas32.General{Rows: n, Cols: l.outC, Stride: l.outC, Data: dz}
	blas32.Gemm(blas.Trans, blas.NoTrans, 1,
		blas32.General{Rows: n, Cols: kk, Stride: kk, Data: cols},
		dzm,
		1,
		blas32.General{Rows: kk, Cols: l.outC, Stride: l.outC, Data: grads[0]},
	)
	db := grads[1]
	for row := 0; row < n; row++ {
		for c, g := range dz[row*l.outC : (row+1)*l.outC] {
			db[c] += g
		}
	}

	if dIn == nil {
		return
	}
	dCols := scratch[n*kk : 2*n*kk]
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		dzm,
		blas32.General{Rows: kk, Cols: l.outC, Stride: l.outC, Data: l.kernel.value},
		0,
		blas32.General{Rows: n, Cols: kk, Stride: kk, Data: dCols},
	)
	l.col2im(dCols, inDims, dIn)
}

func (l *conv2D) im2col(in []float32, d dims, cols []float32) {
	pad := l.k / 2
	kk := l.k * l.k * l.inC
	for y := 0; y < d.h; y++ {
		for x := 0; x < d.w; x++ {
			row := cols[(y*d.w+x)*kk : (y*d.w+x+1)*kk]
			for ky := 0; ky < l.k; ky++ {
				iy := y + ky - pad
				for kx := 0; kx < l.k; kx++ {
					ix := x + kx - pad
					dst := row[(ky*l.k+kx)*l.inC : (ky*l.k+kx+1)*l.inC]
					if iy < 0 || iy >= d.h || ix < 0 || ix >= d.w {
						for i := range dst {
							dst[i] = 0
						}
						continue
					}
					copy(dst, in[(iy*d.w+ix)*l.inC:(iy*d.w+ix+1)*l.inC])
				}
			}
		}
	}
}

func (l *conv2D) col2im(cols []float32, d dims, out []float32) {
	for i := range out[:d.size()] {
		out[i] = 0
	}
	pad := l.k / 2
	kk := l.k * l.k * l.inC
	for y := 0; y < d.h; y++ {
		for x := 0; x < d.w; x++ {
			row := cols[(y*d.w+x)*kk : (y*d.w+x+1)*kk]
			for ky := 0; ky < l.k; ky++ {
				iy := y + ky - pad
				if iy < 0 || iy >= d.h {
					continue
				}
				for kx := 0; kx < l.k; kx++ {
					ix := x + kx - pad
					if ix < 0 || ix >= d.w {
						continue
					}
					src := row[(ky*l.k+kx)*l.inC : (ky*l.k+kx+1)*l.inC]
					dst := out[(iy*d.w+ix)*l.inC : (iy*d.w+ix+1)*l.inC]
					for c, g := range src {
						dst[c] += g
					}
				}
			}
		}
	}
}

// maxPool2D is a 2x2, stride-2 max pool with "same" padding: odd edges pool
// over the remaining row or column.
type maxPool2D struct {
	name string
}

func (l *maxPool2D) label() string        { return l.name }
func (l *maxPool2D) params() []*param     { return nil }
func (l *maxPool2D) scratchSize(dims) int { return 0 }

func (l *maxPool2D) outDims(in dims) dims {
	return dims{h: (in.h + 1) / 2, w: (in.w + 1) / 2, c: in.c}
}

func (l *maxPool2D) forward(in []float32, d dims, out, _ []float32) {
	od := l.outDims(d)
	for oy := 0; oy < od.h; oy++ {
		for ox := 0; ox < od.w; ox++ {
			for c := 0; c < d.c; c++ {
				best := float32(math.Inf(-1))
				for iy := 2 * oy; iy < 2*oy+2 && iy < d.h; iy++ {
					for ix := 2 * ox; ix < 2*ox+2 && ix < d.w; ix++ {
						if v := in[(iy*d.w+ix)*d.c+c]; v > best {
							best = v
						}
					}
				}
				out[(oy*od.w+ox)*d.c+c] = best
			}
		}
	}
}

// backward routes each output gradient to the first input position holding
// the pooled maximum.
func (l *maxPool2D) backward(in, out, dOut []float32, d dims, dIn, _ []float32, _ [][]float32) {
	if dIn == nil {
		return
	}
	for i := range dIn[:d.size()] {
		dIn[i] = 0
	}
	od := l.outDims(d)
	for oy := 0; oy < od.h; oy++ {
		for ox := 0; ox < od.w; ox++ {
			for c := 0; c < d.c; c++ {
				o := (oy*od.w+ox)*d.c + c
				routed := false
				for iy := 2 * oy; iy < 2*oy+2 && iy < d.h && !routed; iy++ {
					for ix := 2 * ox; ix < 2*ox+2 && ix < d.w; ix++ {
						i := (iy*d.w+ix)*d.c + c
						if in[i] == out[o] {
							dIn[i] += dOut[o]
							routed = true
							break
						}
					}
				}
			}
		}
	}
}

// upSampling2D repeats every pixel into a 2x2 block.
type upSampling2D struct {
	name string
}

func (l *upSampling2D) label() string        { return l.name }
func (l *upSampling2D) params() []*param     { return nil }
func (l *upSampling2D) scratchSize(dims) int { return 0 }

func (l *upSampling2D) outDims(in dims) dims {
	return dims{h: in.h * 2, w: in.w * 2, c: in.c}
}

func (l *upSampling2D) forward(in []float32, d dims, out, _ []float32) {
	od := l.outDims(d)
	for y := 0; y < od.h; y++ {
		for x := 0; x < od.w; x++ {
			src := ((y/2)*d.w + x/2) * d.c
			copy(out[(y*od.w+x)*d.c:(y*od.w+x+1)*d.c], in[src:src+d.c])
		}
	}
}

func (l *upSampling2D) backward(_, _, dOut []float32, d dims, dIn, _ []float32, _ [][]float32) {
	if dIn == nil {
		return
	}
	for i := range dIn[:d.size()] {
		dIn[i] = 0
	}
	od := l.outDims(d)
	for y := 0; y < od.h; y++ {
		for x := 0; x < od.w; x++ {
			dst := ((y/2)*d.w + x/2) * d.c
			for c := 0; c < d.c; c++ {
				dIn[dst+c] += dOut[(y*od.w+x)*d.c+c]
			}
		}
	}
}
