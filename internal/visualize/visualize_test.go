package visualize

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"denoise-forge/internal/metrics"
	"denoise-forge/internal/tensor"
)

// ramp builds an [n,h,w,c] tensor whose value is its flat index.
func ramp(t *testing.T, n, h, w, c int) *tensor.Tensor {
	t.Helper()
	data := make([]float32, n*h*w*c)
	for i := range data {
		data[i] = float32(i)
	}
	x, err := tensor.FromFloat32(tensor.Shape{n, h, w, c}, data)
	require.NoError(t, err)
	return x
}

func TestChannel(t *testing.T) {
	x := ramp(t, 2, 2, 2, 3)
	p, err := Channel(x, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Rows)
	assert.Equal(t, 2, p.Cols)
	// sample 1 starts at 12; channel 2 of each pixel
	assert.Equal(t, []float32{14, 17, 20, 23}, p.Data)

	_, err = Channel(x, 2, 0)
	assert.True(t, errors.Is(err, tensor.ErrIndexOutOfRange))
	_, err = Channel(x, 0, 3)
	assert.True(t, errors.Is(err, tensor.ErrIndexOutOfRange))
}

func TestSqueezeNeedsSingleChannel(t *testing.T) {
	_, err := Squeeze(ramp(t, 1, 2, 2, 2), 0)
	assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))

	p, err := Squeeze(ramp(t, 1, 2, 3, 1), 0)
	require.NoError(t, err)
	assert.Equal(t, Panel{Rows: 2, Cols: 3, Data: []float32{0, 1, 2, 3, 4, 5}}, p)
}

func TestChannelStripTransposesReshape(t *testing.T) {
	// h=2, w=3, first k=2 of 4 channels
	x := ramp(t, 1, 2, 3, 4)
	p, err := ChannelStrip(x, 0, 2)
	require.NoError(t, err)
	require.Equal(t, 6, p.Rows)
	require.Equal(t, 2, p.Cols)

	// the untransposed 2x6 matrix holds rows y of [x0c0 x0c1 x1c0 x1c1 x2c0 x2c1]
	reshaped := [2][6]float32{
		{0, 1, 4, 5, 8, 9},
		{12, 13, 16, 17, 20, 21},
	}
	for r := 0; r < 6; r++ {
		for c := 0; c < 2; c++ {
			assert.Equal(t, reshaped[c][r], p.At(r, c), "row %d col %d", r, c)
		}
	}
}

func TestGrayStretchesRange(t *testing.T) {
	img := Gray(Panel{Rows: 1, Cols: 3, Data: []float32{-2, 0, 2}})
	assert.Equal(t, uint8(0), img.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(128), img.GrayAt(1, 0).Y)
	assert.Equal(t, uint8(255), img.GrayAt(2, 0).Y)

	flat := Gray(Panel{Rows: 1, Cols: 2, Data: []float32{0.3, 0.3}})
	assert.Equal(t, uint8(0), flat.GrayAt(1, 0).Y)
}

func TestGridAndSavePNG(t *testing.T) {
	tall := Panel{Rows: 35, Cols: 7, Data: make([]float32, 35*7)}
	square := Panel{Rows: 28, Cols: 28, Data: make([]float32, 28*28)}
	img := Grid([][]Panel{{square, tall}, {square}}, 70)

	assert.Equal(t, Gap+2*(70+Gap), img.Bounds().Dx())
	assert.Equal(t, Gap+2*(70+Gap), img.Bounds().Dy())
	assert.Equal(t, uint8(255), img.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), img.GrayAt(Gap+35, Gap+35).Y)

	path := filepath.Join(t.TempDir(), "figs", "grid.png")
	require.NoError(t, SavePNG(path, img))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}

func TestLossCurve(t *testing.T) {
	h := &metrics.History{}
	h.Add(metrics.Epoch{Epoch: 1, Loss: 0.2, ValLoss: 0.15})
	h.Add(metrics.Epoch{Epoch: 2, Loss: 0.12, ValLoss: 0.11})

	path := filepath.Join(t.TempDir(), "loss.png")
	require.NoError(t, LossCurve(h, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	assert.Error(t, LossCurve(&metrics.History{}, path))
}
