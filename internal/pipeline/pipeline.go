// Package pipeline chains the denoising run: prepare the corpus, train the
// autoencoder, predict on a fixed set of test samples and render figures.
// Each stage returns values consumed by the next; none of them mutate their
// inputs.
package pipeline

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"denoise-forge/internal/config"
	"denoise-forge/internal/dataset"
	"denoise-forge/internal/metrics"
	"denoise-forge/internal/model"
	"denoise-forge/internal/prep"
	"denoise-forge/internal/tensor"
	"denoise-forge/internal/trainer"
	"denoise-forge/internal/visualize"
)

const modelSeedOffset = 2

// SampleIndexSet lists the test samples shown in every figure.
var SampleIndexSet = []int{34, 376, 50, 70, 90, 110, 130, 150, 170, 220}

// SampleIndices returns a copy of SampleIndexSet.
func SampleIndices() []int {
	return append([]int(nil), SampleIndexSet...)
}

// Figures selects which activations are drawn.
type Figures struct {
	EncodedChannels int // leading bottleneck channels laid side by side
	Up1Channel      int
	Up2Channel      int
	Cell            int // panel size in pixels
}

// DefaultFigures draws the first five bottleneck channels, up1 channel 5 and
// up2 channel 20.
func DefaultFigures() Figures {
	return Figures{EncodedChannels: 5, Up1Channel: 5, Up2Channel: 20, Cell: 84}
}

// Predictions holds the model outputs for the gathered sample indices, in
// index order.
type Predictions struct {
	Indices []int
	Noisy   *tensor.Tensor
	Encoded *tensor.Tensor
	Up1     *tensor.Tensor
	Up2     *tensor.Tensor
	Decoded *tensor.Tensor
}

// Result summarizes a completed run.
type Result struct {
	History *metrics.History
	Figures []string
}

// Pipeline runs the stages for one configuration.
type Pipeline struct {
	cfg     *config.Config
	figures Figures
	corpus  dataset.CorpusOptions
}

// New validates cfg and returns a Pipeline drawing the default figures.
func New(cfg *config.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "pipeline config")
	}
	return &Pipeline{
		cfg:     cfg,
		figures: DefaultFigures(),
		corpus: dataset.CorpusOptions{
			Dirs:          cfg.DataDirs,
			Download:      cfg.Download,
			Mirror:        cfg.Mirror,
			VerifyDigests: cfg.VerifyDigests,
			TrainLimit:    cfg.TrainLimit,
			TestLimit:     cfg.TestLimit,
		},
	}, nil
}

// Indices returns the configured sample indices, or SampleIndexSet.
func (p *Pipeline) Indices() []int {
	if len(p.cfg.SampleIndices) > 0 {
		return append([]int(nil), p.cfg.SampleIndices...)
	}
	return SampleIndices()
}

// Prepare loads the corpus and derives the clean and noisy tensors.
func (p *Pipeline) Prepare(ctx context.Context) (*prep.Dataset, error) {
	corpus, err := dataset.LoadCorpus(ctx, p.corpus)
	if err != nil {
		return nil, errors.Wrap(err, "load corpus")
	}
	ds, err := prep.Prepare(corpus, prep.Options{
		NoiseFactor: p.cfg.NoiseFactor,
		NoiseStdDev: p.cfg.NoiseStdDev,
		Seed:        uint64(p.cfg.Seed),
	})
	if err != nil {
		return nil, err
	}
	log.Printf("sample_shape=%v", ds.CleanTrain.Shape()[1:])
	return ds, nil
}

// Train builds the autoencoder, restores it from the checkpoint when resuming,
// and fits it to map noisy training images to clean ones.
func (p *Pipeline) Train(ctx context.Context, ds *prep.Dataset) (*model.Autoencoder, *metrics.History, error) {
	mdl, err := model.NewAutoencoder(p.modelOptions(ds.CleanTrain.Shape()))
	if err != nil {
		return nil, nil, err
	}
	log.Printf("model params=%d filters=%d", mdl.NumParams(), p.cfg.Filters)

	if p.cfg.Resume {
		if err := mdl.LoadFile(p.cfg.Checkpoint); err != nil {
			return nil, nil, errors.Wrapf(err, "resume from %s", p.cfg.Checkpoint)
		}
		log.Printf("resumed checkpoint=%s", p.cfg.Checkpoint)
	}

	history, err := trainer.Fit(ctx, mdl, trainer.FitConfig{
		Inputs:     ds.NoisyTrain,
		Targets:    ds.CleanTrain,
		ValInputs:  ds.NoisyTest,
		ValTargets: ds.CleanTest,
		Epochs:     p.cfg.Epochs,
		BatchSize:  p.cfg.BatchSize,
		Shuffle:    p.cfg.Shuffle,
		Seed:       p.cfg.Seed,
		LogEvery:   p.cfg.LogEvery,
	})
	if err != nil {
		return nil, nil, err
	}

	if p.cfg.Checkpoint != "" {
		if err := os.MkdirAll(filepath.Dir(p.cfg.Checkpoint), 0o755); err != nil {
			return nil, nil, errors.Wrap(err, "create checkpoint dir")
		}
		if err := mdl.SaveFile(p.cfg.Checkpoint); err != nil {
			return nil, nil, err
		}
		log.Printf("saved checkpoint=%s", p.cfg.Checkpoint)
	}
	return mdl, history, nil
}

// modelOptions sizes the autoencoder for samples shaped [N,h,w,c]. Prepare
// seeds the train and test noise with seed and seed+1, so weight init draws
// from seed+modelSeedOffset.
func (p *Pipeline) modelOptions(shape tensor.Shape) model.Options {
	return model.Options{
		Height:       shape[1],
		Width:        shape[2],
		Channels:     shape[3],
		Filters:      p.cfg.Filters,
		LearningRate: p.cfg.LearningRate,
		Workers:      p.cfg.NumWorkers,
		Seed:         uint64(p.cfg.Seed) + modelSeedOffset,
	}
}

// Evaluate gathers the noisy test samples at indices and runs one forward
// pass that records every activation the figures need.
func Evaluate(ctx context.Context, mdl *model.Autoencoder, ds *prep.Dataset, indices []int) (*Predictions, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, errors.New("no sample indices")
	}
	if err := tensor.CheckSameShape(ds.NoisyTest, ds.CleanTest); err != nil {
		return nil, err
	}
	noisy, err := ds.NoisyTest.Gather(indices)
	if err != nil {
		return nil, errors.Wrap(err, "sample indices")
	}
	taps, err := mdl.PredictTaps(noisy, model.TapEncoded, model.TapUp1, model.TapUp2, model.TapDecoded)
	if err != nil {
		return nil, err
	}
	return &Predictions{
		Indices: append([]int(nil), indices...),
		Noisy:   noisy,
		Encoded: taps[model.TapEncoded],
		Up1:     taps[model.TapUp1],
		Up2:     taps[model.TapUp2],
		Decoded: taps[model.TapDecoded],
	}, nil
}

// Render writes one PNG per figure into dir and returns their paths.
func Render(preds *Predictions, f Figures, dir string) ([]string, error) {
	n := len(preds.Indices)
	type figure struct {
		name    string
		extract func(i int) (visualize.Panel, error)
	}
	figs := []figure{
		{"noisy.png", func(i int) (visualize.Panel, error) { return visualize.Squeeze(preds.Noisy, i) }},
		{"encoded.png", func(i int) (visualize.Panel, error) {
			return visualize.ChannelStrip(preds.Encoded, i, f.EncodedChannels)
		}},
		{"up1.png", func(i int) (visualize.Panel, error) { return visualize.Channel(preds.Up1, i, f.Up1Channel) }},
		{"up2.png", func(i int) (visualize.Panel, error) { return visualize.Channel(preds.Up2, i, f.Up2Channel) }},
		{"decoded.png", func(i int) (visualize.Panel, error) { return visualize.Squeeze(preds.Decoded, i) }},
	}

	rows := make(map[string][]visualize.Panel, len(figs))
	var paths []string
	for _, fig := range figs {
		panels := make([]visualize.Panel, n)
		for i := range panels {
			p, err := fig.extract(i)
			if err != nil {
				return paths, errors.Wrap(err, fig.name)
			}
			panels[i] = p
		}
		rows[fig.name] = panels
		path := filepath.Join(dir, fig.name)
		if err := visualize.SavePNG(path, visualize.Strip(panels, f.Cell)); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}

	path := filepath.Join(dir, "comparison.png")
	grid := visualize.Grid([][]visualize.Panel{rows["noisy.png"], rows["decoded.png"]}, f.Cell)
	if err := visualize.SavePNG(path, grid); err != nil {
		return paths, err
	}
	return append(paths, path), nil
}

// Run chains Prepare, Train, Evaluate and Render.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	ds, err := p.Prepare(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "prepare")
	}
	mdl, history, err := p.Train(ctx, ds)
	if err != nil {
		return nil, errors.Wrap(err, "train")
	}
	preds, err := Evaluate(ctx, mdl, ds, p.Indices())
	if err != nil {
		return nil, errors.Wrap(err, "evaluate")
	}
	paths, err := Render(preds, p.figures, p.cfg.OutputDir)
	if err != nil {
		return nil, errors.Wrap(err, "render")
	}
	if best, ok := history.Best(); ok {
		log.Printf("best_epoch=%d val_loss=%.4f mean_loss=%.4f", best.Epoch, best.ValLoss, history.MeanLoss())
		path := filepath.Join(p.cfg.OutputDir, "loss.png")
		if err := visualize.LossCurve(history, path); err != nil {
			return nil, errors.Wrap(err, "render")
		}
		paths = append(paths, path)
	}
	log.Printf("run complete figures=%d output_dir=%s elapsed=%s",
		len(paths), p.cfg.OutputDir, time.Since(start).Round(time.Millisecond))
	return &Result{History: history, Figures: paths}, nil
}

// Run builds a Pipeline for cfg and runs it.
func Run(ctx context.Context, cfg *config.Config) (*Result, error) {
	p, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}
