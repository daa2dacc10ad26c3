// Package prep turns a raw image corpus into paired noisy/clean tensors.
//
// Every split goes through the same steps: rescale 8-bit pixels to [0,1],
// append a unit channel dimension, add scaled Gaussian noise and clip back
// into [0,1]. The noisy tensor of a split has the same shape as its clean
// source and pairs with it by sample position.
package prep

import (
	"log"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"denoise-forge/internal/dataset"
	"denoise-forge/internal/tensor"
)

const (
	DefaultNoiseFactor = 0.5
	DefaultNoiseStdDev = 1.0
)

// Options configures Prepare.
type Options struct {
	NoiseFactor float64
	NoiseStdDev float64
	Seed        uint64
}

// Dataset holds the four tensors produced by Prepare, each shaped [N,28,28,1].
type Dataset struct {
	CleanTrain *tensor.Tensor
	CleanTest  *tensor.Tensor
	NoisyTrain *tensor.Tensor
	NoisyTest  *tensor.Tensor
}

// Prepare normalizes and reshapes both splits of corpus and derives their noisy
// counterparts. Each split draws noise from its own seeded stream.
func Prepare(corpus *dataset.Corpus, opts Options) (*Dataset, error) {
	if corpus == nil {
		return nil, errors.New("prep: nil corpus")
	}
	if opts.NoiseFactor < 0 || opts.NoiseStdDev < 0 {
		return nil, errors.Errorf("prep: noise factor and stddev must be >= 0 (got %g, %g)", opts.NoiseFactor, opts.NoiseStdDev)
	}

	cleanTrain, err := Clean(corpus.Train)
	if err != nil {
		return nil, errors.Wrap(err, "train split")
	}
	cleanTest, err := Clean(corpus.Test)
	if err != nil {
		return nil, errors.Wrap(err, "test split")
	}

	noisyTrain, err := AddNoise(cleanTrain, opts.NoiseFactor, opts.NoiseStdDev, rand.NewSource(opts.Seed))
	if err != nil {
		return nil, errors.Wrap(err, "train noise")
	}
	noisyTest, err := AddNoise(cleanTest, opts.NoiseFactor, opts.NoiseStdDev, rand.NewSource(opts.Seed+1))
	if err != nil {
		return nil, errors.Wrap(err, "test noise")
	}

	log.Printf("prepared train=%v test=%v noise_factor=%g noise_stddev=%g",
		cleanTrain.Shape(), cleanTest.Shape(), opts.NoiseFactor, opts.NoiseStdDev)

	return &Dataset{
		CleanTrain: cleanTrain,
		CleanTest:  cleanTest,
		NoisyTrain: noisyTrain,
		NoisyTest:  noisyTest,
	}, nil
}

// Clean normalizes a raw [N,H,W] Uint8 split and appends the channel dimension.
func Clean(raw *tensor.Tensor) (*tensor.Tensor, error) {
	norm, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	return AddChannel(norm)
}

// Normalize maps Uint8 pixels to Float32 values in [0,1] by dividing by 255.
// Inputs that are already Float32 are rejected with ErrDtypeMismatch so that
// the rescale is never applied twice.
func Normalize(raw *tensor.Tensor) (*tensor.Tensor, error) {
	pix, err := raw.Uint8()
	if err != nil {
		return nil, errors.Wrap(err, "normalize")
	}
	out := make([]float32, len(pix))
	for i, v := range pix {
		out[i] = float32(v) / 255.0
	}
	return tensor.FromFloat32(raw.Shape(), out)
}

// AddChannel reshapes [N,H,W] to [N,H,W,1].
func AddChannel(t *tensor.Tensor) (*tensor.Tensor, error) {
	if t.Rank() != 3 {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "add channel: want rank 3, have %v", t.Shape())
	}
	s := t.Shape()
	return t.Reshape(s[0], s[1], s[2], 1)
}

// AddNoise returns clip(clean + factor*n) where every n is drawn independently
// from a normal distribution with mean 0 and the given standard deviation.
func AddNoise(clean *tensor.Tensor, factor, stddev float64, src rand.Source) (*tensor.Tensor, error) {
	data, err := clean.Float32()
	if err != nil {
		return nil, errors.Wrap(err, "add noise")
	}
	out := make([]float32, len(data))
	if factor == 0 || stddev == 0 {
		copy(out, data)
		return tensor.FromFloat32(clean.Shape(), out)
	}

	dist := distuv.Normal{Mu: 0, Sigma: stddev, Src: src}
	for i, v := range data {
		out[i] = Clip(v + float32(factor*dist.Rand()))
	}
	return tensor.FromFloat32(clean.Shape(), out)
}

// Clip clamps v into [0,1].
func Clip(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
