package dataset

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"denoise-forge/internal/tensor"
)

// Batch is a minibatch of paired samples gathered from an input and a target
// tensor at the same positions.
type Batch struct {
	Epoch   int
	Step    int
	Indices []int
	Inputs  []float32
	Targets []float32
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int { return len(b.Indices) }

// SamplerOptions configures one epoch of the batch sampler.
type SamplerOptions struct {
	Inputs    *tensor.Tensor
	Targets   *tensor.Tensor
	BatchSize int
	Shuffle   bool
	Seed      int64
	Epoch     int
	Prefetch  int
}

// StartSampler launches a goroutine that emits the batches of one epoch in
// order and closes the stream afterwards. The error channel reports context
// cancellation.
func StartSampler(parent context.Context, opts SamplerOptions) (<-chan Batch, <-chan error, error) {
	if opts.Inputs == nil || opts.Targets == nil {
		return nil, nil, errors.New("sampler: inputs and targets are required")
	}
	if err := tensor.CheckSameShape(opts.Inputs, opts.Targets); err != nil {
		return nil, nil, errors.Wrap(err, "sampler")
	}
	inputs, err := opts.Inputs.Float32()
	if err != nil {
		return nil, nil, errors.Wrap(err, "sampler inputs")
	}
	targets, err := opts.Targets.Float32()
	if err != nil {
		return nil, nil, errors.Wrap(err, "sampler targets")
	}
	if opts.BatchSize <= 0 {
		return nil, nil, errors.Errorf("sampler: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 2
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}

	rng := rand.New(rand.NewSource(opts.Seed + int64(opts.Epoch)))
	order := EpochOrder(opts.Inputs.Len(), opts.Shuffle, rng)
	per := opts.Inputs.SampleSize()

	out := make(chan Batch, opts.Prefetch)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		step := 0
		for start := 0; start < len(order); start += opts.BatchSize {
			end := start + opts.BatchSize
			if end > len(order) {
				end = len(order)
			}
			step++
			batch := gather(order[start:end], inputs, targets, per)
			batch.Epoch = opts.Epoch
			batch.Step = step
			select {
			case <-parent.Done():
				errCh <- parent.Err()
				return
			case out <- batch:
			}
		}
	}()

	return out, errCh, nil
}

// EpochOrder returns the visiting order of n samples, permuted by rng when
// shuffle is set.
func EpochOrder(n int, shuffle bool, rng *rand.Rand) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if shuffle && rng != nil {
		rng.Shuffle(n, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order
}

// BatchCount returns the number of batches needed to cover n samples.
func BatchCount(n, batchSize int) int {
	if batchSize <= 0 {
		return 0
	}
	return (n + batchSize - 1) / batchSize
}

func gather(indices []int, inputs, targets []float32, per int) Batch {
	b := Batch{
		Indices: append([]int(nil), indices...),
		Inputs:  make([]float32, len(indices)*per),
		Targets: make([]float32, len(indices)*per),
	}
	for i, idx := range indices {
		copy(b.Inputs[i*per:(i+1)*per], inputs[idx*per:(idx+1)*per])
		copy(b.Targets[i*per:(i+1)*per], targets[idx*per:(idx+1)*per])
	}
	return b
}
