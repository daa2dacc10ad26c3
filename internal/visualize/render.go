package visualize

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Gap is the white margin in pixels around and between panels.
const Gap = 4

// Strip renders panels left to right. Each panel is scaled with nearest
// neighbour sampling so that its longer side spans cell pixels.
func Strip(panels []Panel, cell int) *image.Gray {
	return Grid([][]Panel{panels}, cell)
}

// Grid renders rows of panels, one strip per row, on a white canvas.
func Grid(rows [][]Panel, cell int) *image.Gray {
	if cell <= 0 {
		cell = 84
	}
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	width := Gap + cols*(cell+Gap)
	height := Gap + len(rows)*(cell+Gap)
	canvas := image.NewGray(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	for r, row := range rows {
		for c, p := range row {
			src := Gray(p)
			w, h := fit(p.Cols, p.Rows, cell)
			x0 := Gap + c*(cell+Gap) + (cell-w)/2
			y0 := Gap + r*(cell+Gap) + (cell-h)/2
			dst := image.Rect(x0, y0, x0+w, y0+h)
			draw.NearestNeighbor.Scale(canvas, dst, src, src.Bounds(), draw.Src, nil)
		}
	}
	return canvas
}

func fit(w, h, cell int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if w >= h {
		return cell, max(1, h*cell/w)
	}
	return max(1, w*cell/h), cell
}

// SavePNG encodes img to path, creating parent directories.
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create figure dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create figure")
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return f.Close()
}
