package model

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"denoise-forge/internal/tensor"
)

func smallBatch(n, side int, seed uint64) Batch {
	r := rand.New(rand.NewSource(seed))
	size := n * side * side
	b := Batch{Inputs: make([]float32, size), Targets: make([]float32, size), Size: n}
	for i := range b.Targets {
		if (i/side+i%side)%3 == 0 {
			b.Targets[i] = 1
		}
		b.Inputs[i] = 0.7*b.Targets[i] + 0.3*r.Float32()
	}
	return b
}

func TestAutoencoderTapShapes(t *testing.T) {
	m, err := NewAutoencoder(Options{Workers: 2, Seed: 1})
	require.NoError(t, err)

	x := tensor.Zeros(3, 28, 28, 1)
	outs, err := m.PredictTaps(x, TapEncoded, TapUp1, TapUp2, TapDecoded)
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{3, 7, 7, 32}, outs[TapEncoded].Shape())
	assert.Equal(t, tensor.Shape{3, 14, 14, 32}, outs[TapUp1].Shape())
	assert.Equal(t, tensor.Shape{3, 28, 28, 32}, outs[TapUp2].Shape())
	assert.Equal(t, tensor.Shape{3, 28, 28, 1}, outs[TapDecoded].Shape())

	// three 3x3x32x32 convolutions between the first and the last
	want := (9*1*32 + 32) + 3*(9*32*32+32) + (9*32*1 + 1)
	assert.Equal(t, want, m.NumParams())
}

func TestPredictUntrainedKeepsShape(t *testing.T) {
	m, err := NewAutoencoder(Options{Seed: 2})
	require.NoError(t, err)

	x := tensor.Zeros(5, 28, 28, 1)
	y, err := m.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, x.Shape(), y.Shape())

	data, _ := y.Float32()
	for _, v := range data {
		require.True(t, v > 0 && v < 1, "sigmoid output %v", v)
	}
}

func TestPredictRejectsWrongShape(t *testing.T) {
	m, err := NewAutoencoder(Options{Seed: 2, Workers: 1})
	require.NoError(t, err)
	_, err = m.Predict(tensor.Zeros(2, 28, 28))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)

	_, err = m.PredictTaps(tensor.Zeros(1, 28, 28, 1), "nope")
	assert.Error(t, err)
}

func TestNewAutoencoderRejectsOddInput(t *testing.T) {
	_, err := NewAutoencoder(Options{Height: 6, Width: 8})
	assert.Error(t, err)
}

func TestTrainStepReducesLoss(t *testing.T) {
	m, err := NewAutoencoder(Options{Height: 8, Width: 8, Filters: 4, LearningRate: 0.01, Workers: 2, Seed: 3})
	require.NoError(t, err)
	batch := smallBatch(4, 8, 1)

	first, err := m.TrainStep(batch)
	require.NoError(t, err)
	var last float64
	for i := 0; i < 40; i++ {
		last, err = m.TrainStep(batch)
		require.NoError(t, err)
	}
	if last >= first {
		t.Fatalf("expected loss to decrease; first=%f last=%f", first, last)
	}

	eval, err := m.Evaluate(batch)
	require.NoError(t, err)
	assert.Less(t, eval, first)
}

func TestWorkerCountDoesNotChangeResult(t *testing.T) {
	batch := smallBatch(5, 8, 4)
	var losses []float64
	for _, workers := range []int{1, 3} {
		m, err := NewAutoencoder(Options{Height: 8, Width: 8, Filters: 4, Workers: workers, Seed: 7})
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err := m.TrainStep(batch)
			require.NoError(t, err)
		}
		loss, err := m.Evaluate(batch)
		require.NoError(t, err)
		losses = append(losses, loss)
	}
	assert.InDelta(t, losses[0], losses[1], 1e-3)
}

func TestTrainStepRejectsShortBatch(t *testing.T) {
	m, err := NewAutoencoder(Options{Height: 8, Width: 8, Filters: 2, Workers: 1})
	require.NoError(t, err)
	_, err = m.TrainStep(Batch{Inputs: make([]float32, 10), Targets: make([]float32, 64), Size: 1})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	_, err = m.TrainStep(Batch{})
	assert.Error(t, err)
}

func TestCheckpointRoundTrip(t *testing.T) {
	opts := Options{Height: 8, Width: 8, Filters: 4, Workers: 1, Seed: 11}
	src, err := NewAutoencoder(opts)
	require.NoError(t, err)
	_, err = src.TrainStep(smallBatch(2, 8, 2))
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, src.Save(buf))

	opts.Seed = 12
	dst, err := NewAutoencoder(opts)
	require.NoError(t, err)
	require.NoError(t, dst.Load(bytes.NewReader(buf.Bytes())))

	x := tensor.Zeros(1, 8, 8, 1)
	a, err := src.Predict(x)
	require.NoError(t, err)
	b, err := dst.Predict(x)
	require.NoError(t, err)
	ad, _ := a.Float32()
	bd, _ := b.Float32()
	assert.Equal(t, ad, bd)

	other, err := NewAutoencoder(Options{Height: 8, Width: 8, Filters: 2, Workers: 1})
	require.NoError(t, err)
	assert.Error(t, other.Load(bytes.NewReader(buf.Bytes())))
}
