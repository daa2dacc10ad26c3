package visualize

import (
	"image"
	"image/color"

	"github.com/pkg/errors"

	"denoise-forge/internal/tensor"
)

// Panel is a rows x cols matrix of intensities rendered as one grayscale image.
type Panel struct {
	Rows, Cols int
	Data       []float32
}

// At returns the value at row r, column c.
func (p Panel) At(r, c int) float32 { return p.Data[r*p.Cols+c] }

// Squeeze returns sample i of a single-channel [N,h,w,1] tensor.
func Squeeze(t *tensor.Tensor, i int) (Panel, error) {
	if err := tensor.CheckShape(t, -1, -1, -1, 1); err != nil {
		return Panel{}, errors.Wrap(err, "squeeze")
	}
	return Channel(t, i, 0)
}

// Channel returns channel c of sample i of an [N,h,w,C] tensor.
func Channel(t *tensor.Tensor, i, c int) (Panel, error) {
	data, s, err := sample(t, i)
	if err != nil {
		return Panel{}, err
	}
	h, w, ch := s[1], s[2], s[3]
	if c < 0 || c >= ch {
		return Panel{}, errors.Wrapf(tensor.ErrIndexOutOfRange, "channel %d of %d", c, ch)
	}
	p := Panel{Rows: h, Cols: w, Data: make([]float32, h*w)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p.Data[y*w+x] = data[(y*w+x)*ch+c]
		}
	}
	return p, nil
}

// ChannelStrip lays the first k channels of sample i side by side. The
// [h,w,k] block is read in row-major order as an h x (w*k) matrix and then
// transposed, giving a (w*k) x h panel.
func ChannelStrip(t *tensor.Tensor, i, k int) (Panel, error) {
	data, s, err := sample(t, i)
	if err != nil {
		return Panel{}, err
	}
	h, w, ch := s[1], s[2], s[3]
	if k <= 0 || k > ch {
		return Panel{}, errors.Wrapf(tensor.ErrIndexOutOfRange, "%d channels of %d", k, ch)
	}
	cols := w * k
	p := Panel{Rows: cols, Cols: h, Data: make([]float32, h*cols)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < k; c++ {
				col := x*k + c
				p.Data[col*h+y] = data[(y*w+x)*ch+c]
			}
		}
	}
	return p, nil
}

func sample(t *tensor.Tensor, i int) ([]float32, tensor.Shape, error) {
	if err := tensor.CheckShape(t, -1, -1, -1, -1); err != nil {
		return nil, nil, errors.Wrap(err, "panel")
	}
	if err := tensor.CheckIndices([]int{i}, t.Len()); err != nil {
		return nil, nil, errors.Wrap(err, "panel")
	}
	data, err := t.Float32()
	if err != nil {
		return nil, nil, errors.Wrap(err, "panel")
	}
	per := t.SampleSize()
	return data[i*per : (i+1)*per], t.Shape(), nil
}

// Gray maps a panel onto 8-bit gray, stretching its own minimum to black and
// maximum to white. A constant panel renders black.
func Gray(p Panel) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, p.Cols, p.Rows))
	if len(p.Data) == 0 {
		return img
	}
	lo, hi := p.Data[0], p.Data[0]
	for _, v := range p.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	for r := 0; r < p.Rows; r++ {
		for c := 0; c < p.Cols; c++ {
			var y uint8
			if span > 0 {
				y = uint8((p.At(r, c)-lo)/span*255 + 0.5)
			}
			img.SetGray(c, r, color.Gray{Y: y})
		}
	}
	return img
}
