package visualize

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"denoise-forge/internal/metrics"
)

// LossCurve plots training and validation loss per epoch and saves the figure
// to path. The image format follows the file extension.
func LossCurve(history *metrics.History, path string) error {
	if history == nil || len(history.Epochs) == 0 {
		return errors.New("loss curve: empty history")
	}
	p := plot.New()
	p.Title.Text = "binary cross-entropy"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"

	loss, valLoss := history.Loss(), history.ValLoss()
	train := make(plotter.XYs, len(loss))
	val := make(plotter.XYs, len(valLoss))
	for i, e := range history.Epochs {
		train[i] = plotter.XY{X: float64(e.Epoch), Y: loss[i]}
		val[i] = plotter.XY{X: float64(e.Epoch), Y: valLoss[i]}
	}
	if err := plotutil.AddLinePoints(p, "loss", train, "val_loss", val); err != nil {
		return errors.Wrap(err, "loss curve")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create figure dir")
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}
