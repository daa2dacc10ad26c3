package model

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"

	"denoise-forge/internal/tensor"
)

// Names of the activations PredictTaps can return.
const (
	TapEncoded = "encoded"
	TapUp1     = "up1"
	TapUp2     = "up2"
	TapDecoded = "decoded"
)

// Options configures NewAutoencoder. Zero values select the defaults used
// for 28x28 grayscale digits.
type Options struct {
	Height       int
	Width        int
	Channels     int
	Filters      int
	LearningRate float64
	Workers      int
	Seed         uint64
}

func (o *Options) setDefaults() {
	if o.Height <= 0 {
		o.Height = 28
	}
	if o.Width <= 0 {
		o.Width = 28
	}
	if o.Channels <= 0 {
		o.Channels = 1
	}
	if o.Filters <= 0 {
		o.Filters = 32
	}
	if o.LearningRate <= 0 {
		o.LearningRate = 0.001
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
}

// Autoencoder is a convolutional encoder/decoder: two conv+pool stages down to
// the bottleneck, two conv+upsample stages back up and a sigmoid conv that
// restores the input channel count. It is trained with binary cross-entropy
// and Adam. An Autoencoder is not safe for concurrent use.
type Autoencoder struct {
	opts   Options
	layers []layer
	dims   []dims
	taps   map[string]int
	params []*param
	owner  [][]int
	opt    *adam
	ws     []*workspace
}

var _ Model = (*Autoencoder)(nil)

// NewAutoencoder builds the network with Glorot-uniform kernels and zero biases.
func NewAutoencoder(opts Options) (*Autoencoder, error) {
	opts.setDefaults()
	if opts.Height%4 != 0 || opts.Width%4 != 0 {
		return nil, errors.Errorf("model: input %dx%d must be divisible by 4", opts.Height, opts.Width)
	}

	src := rand.NewSource(opts.Seed)
	f := opts.Filters
	layers := []layer{
		newConv2D("conv1", opts.Channels, f, 3, relu, src),
		&maxPool2D{name: "pool1"},
		newConv2D("conv2", f, f, 3, relu, src),
		&maxPool2D{name: TapEncoded},
		newConv2D("conv3", f, f, 3, relu, src),
		&upSampling2D{name: TapUp1},
		newConv2D("conv4", f, f, 3, relu, src),
		&upSampling2D{name: TapUp2},
		newConv2D(TapDecoded, f, opts.Channels, 3, sigmoid, src),
	}

	m := &Autoencoder{
		opts:   opts,
		layers: layers,
		taps:   make(map[string]int),
	}
	d := dims{h: opts.Height, w: opts.Width, c: opts.Channels}
	m.dims = append(m.dims, d)
	for i, l := range layers {
		d = l.outDims(d)
		m.dims = append(m.dims, d)
		m.taps[l.label()] = i
		var owned []int
		for _, p := range l.params() {
			owned = append(owned, len(m.params))
			m.params = append(m.params, p)
		}
		m.owner = append(m.owner, owned)
	}
	if out := m.dims[len(m.dims)-1]; out != m.dims[0] {
		return nil, errors.Errorf("model: output %v does not match input %v", out, m.dims[0])
	}
	m.opt = newAdam(opts.LearningRate, m.params)
	for i := 0; i < opts.Workers; i++ {
		m.ws = append(m.ws, m.newWorkspace())
	}
	return m, nil
}

// InputShape returns the per-sample [h,w,c] shape.
func (m *Autoencoder) InputShape() tensor.Shape {
	d := m.dims[0]
	return tensor.Shape{d.h, d.w, d.c}
}

// TapShape returns the per-sample shape of a named activation.
func (m *Autoencoder) TapShape(tap string) (tensor.Shape, error) {
	i, ok := m.taps[tap]
	if !ok {
		return nil, errors.Errorf("model: unknown tap %q", tap)
	}
	d := m.dims[i+1]
	return tensor.Shape{d.h, d.w, d.c}, nil
}

// NumParams returns the number of trainable scalars.
func (m *Autoencoder) NumParams() int {
	n := 0
	for _, p := range m.params {
		n += len(p.value)
	}
	return n
}

// TrainStep executes one Adam step on the batch and returns the mean loss.
func (m *Autoencoder) TrainStep(batch Batch) (float64, error) {
	loss, err := m.run(batch, true)
	if err != nil {
		return 0, err
	}
	grads := m.ws[0].paramGrads
	m.opt.update(m.params, grads)
	return loss, nil
}

// Evaluate returns the mean loss of the batch.
func (m *Autoencoder) Evaluate(batch Batch) (float64, error) {
	return m.run(batch, false)
}

// Predict returns the reconstruction of every sample in x.
func (m *Autoencoder) Predict(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.PredictTaps(x, TapDecoded)
	if err != nil {
		return nil, err
	}
	return out[TapDecoded], nil
}

// PredictTaps runs a forward pass over x and returns the requested
// intermediate activations, each shaped [N,h,w,c].
func (m *Autoencoder) PredictTaps(x *tensor.Tensor, taps ...string) (map[string]*tensor.Tensor, error) {
	in := m.dims[0]
	if err := tensor.CheckShape(x, -1, in.h, in.w, in.c); err != nil {
		return nil, errors.Wrap(err, "predict")
	}
	data, err := x.Float32()
	if err != nil {
		return nil, errors.Wrap(err, "predict")
	}
	if len(taps) == 0 {
		taps = []string{TapDecoded}
	}

	n := x.Len()
	depth := 0
	outs := make(map[string][]float32, len(taps))
	for _, tap := range taps {
		i, ok := m.taps[tap]
		if !ok {
			return nil, errors.Errorf("predict: unknown tap %q", tap)
		}
		if i+1 > depth {
			depth = i + 1
		}
		outs[tap] = make([]float32, n*m.dims[i+1].size())
	}

	m.parallel(n, func(ws *workspace, lo, hi int) {
		for s := lo; s < hi; s++ {
			copy(ws.acts[0], data[s*in.size():(s+1)*in.size()])
			m.forward(ws, depth)
			for tap, buf := range outs {
				i := m.taps[tap]
				size := m.dims[i+1].size()
				copy(buf[s*size:(s+1)*size], ws.acts[i+1])
			}
		}
	})

	result := make(map[string]*tensor.Tensor, len(outs))
	for tap, buf := range outs {
		d := m.dims[m.taps[tap]+1]
		t, err := tensor.FromFloat32(tensor.Shape{n, d.h, d.w, d.c}, buf)
		if err != nil {
			return nil, err
		}
		result[tap] = t
	}
	return result, nil
}

type workspace struct {
	acts       [][]float32
	deltas     [][]float32
	scratch    [][]float32
	paramGrads [][]float32
	layerGrads [][][]float32
	loss       float64
}

func (m *Autoencoder) newWorkspace() *workspace {
	ws := &workspace{}
	for _, d := range m.dims {
		ws.acts = append(ws.acts, make([]float32, d.size()))
		ws.deltas = append(ws.deltas, make([]float32, d.size()))
	}
	for i, l := range m.layers {
		ws.scratch = append(ws.scratch, make([]float32, l.scratchSize(m.dims[i])))
	}
	for _, p := range m.params {
		ws.paramGrads = append(ws.paramGrads, make([]float32, len(p.value)))
	}
	for _, owned := range m.owner {
		grads := make([][]float32, len(owned))
		for j, pi := range owned {
			grads[j] = ws.paramGrads[pi]
		}
		ws.layerGrads = append(ws.layerGrads, grads)
	}
	return ws
}

func (m *Autoencoder) forward(ws *workspace, depth int) {
	for i := 0; i < depth; i++ {
		m.layers[i].forward(ws.acts[i], m.dims[i], ws.acts[i+1], ws.scratch[i])
	}
}

func (m *Autoencoder) backward(ws *workspace) {
	for i := len(m.layers) - 1; i >= 0; i-- {
		var dIn []float32
		if i > 0 {
			dIn = ws.deltas[i]
		}
		m.layers[i].backward(ws.acts[i], ws.acts[i+1], ws.deltas[i+1], m.dims[i], dIn, ws.scratch[i], ws.layerGrads[i])
	}
}

// run computes the mean loss of batch. With train set, the summed parameter
// gradients of all workers end up in m.ws[0].paramGrads.
func (m *Autoencoder) run(batch Batch, train bool) (float64, error) {
	in := m.dims[0]
	out := m.dims[len(m.dims)-1]
	n := batch.Size
	if n <= 0 {
		return 0, errors.New("model: empty batch")
	}
	if len(batch.Inputs) != n*in.size() || len(batch.Targets) != n*out.size() {
		return 0, errors.Wrapf(tensor.ErrShapeMismatch, "batch of %d wants %d inputs and %d targets, got %d and %d",
			n, n*in.size(), n*out.size(), len(batch.Inputs), len(batch.Targets))
	}

	depth := len(m.layers)
	scale := 1 / float64(n*out.size())
	used := m.parallel(n, func(ws *workspace, lo, hi int) {
		ws.loss = 0
		if train {
			for _, g := range ws.paramGrads {
				for i := range g {
					g[i] = 0
				}
			}
		}
		last := ws.deltas[depth]
		for s := lo; s < hi; s++ {
			copy(ws.acts[0], batch.Inputs[s*in.size():(s+1)*in.size()])
			m.forward(ws, depth)
			target := batch.Targets[s*out.size() : (s+1)*out.size()]
			if !train {
				ws.loss += binaryCrossEntropy(ws.acts[depth], target, nil, scale)
				continue
			}
			ws.loss += binaryCrossEntropy(ws.acts[depth], target, last, scale)
			m.backward(ws)
		}
	})

	total := 0.0
	for k := 0; k < used; k++ {
		total += m.ws[k].loss
		if train && k > 0 {
			for pi, g := range m.ws[k].paramGrads {
				dst := m.ws[0].paramGrads[pi]
				for i, v := range g {
					dst[i] += v
				}
			}
		}
	}
	return total * scale, nil
}

// parallel splits [0,n) into contiguous shards, one per workspace, and
// returns how many workspaces were used. Shard k always goes to m.ws[k].
func (m *Autoencoder) parallel(n int, fn func(ws *workspace, lo, hi int)) int {
	workers := len(m.ws)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(m.ws[0], 0, n)
		return 1
	}
	var wg sync.WaitGroup
	for k := 0; k < workers; k++ {
		lo := k * n / workers
		hi := (k + 1) * n / workers
		wg.Add(1)
		go func(ws *workspace) {
			defer wg.Done()
			fn(ws, lo, hi)
		}(m.ws[k])
	}
	wg.Wait()
	return workers
}
