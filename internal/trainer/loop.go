package trainer

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"

	"denoise-forge/internal/dataset"
	"denoise-forge/internal/metrics"
	"denoise-forge/internal/model"
	"denoise-forge/internal/tensor"
)

// FitConfig captures the knobs required by the training loop. ValInputs and
// ValTargets are optional; when set, the validation loss is computed after
// every epoch.
type FitConfig struct {
	Inputs     *tensor.Tensor
	Targets    *tensor.Tensor
	ValInputs  *tensor.Tensor
	ValTargets *tensor.Tensor
	Epochs     int
	BatchSize  int
	Shuffle    bool
	Seed       int64
	LogEvery   int
}

// Fit trains mdl to map Inputs to Targets for the configured number of epochs.
// Zero epochs is valid and leaves the model untouched.
func Fit(ctx context.Context, mdl model.Model, cfg FitConfig) (*metrics.History, error) {
	if cfg.Epochs < 0 {
		return nil, errors.Errorf("trainer: epochs must be >= 0 (got %d)", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("trainer: batch size must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}
	if err := checkPair(mdl, cfg.Inputs, cfg.Targets); err != nil {
		return nil, errors.Wrap(err, "trainer: training pair")
	}
	validate := cfg.ValInputs != nil || cfg.ValTargets != nil
	if validate {
		if err := checkPair(mdl, cfg.ValInputs, cfg.ValTargets); err != nil {
			return nil, errors.Wrap(err, "trainer: validation pair")
		}
	}

	history := &metrics.History{}
	steps := dataset.BatchCount(cfg.Inputs.Len(), cfg.BatchSize)
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()
		loss, err := runEpoch(ctx, mdl, cfg, epoch, steps)
		if err != nil {
			return history, errors.Wrapf(err, "epoch %d", epoch)
		}
		summary := metrics.Epoch{Epoch: epoch, Loss: loss}
		if validate {
			summary.ValLoss, err = Evaluate(ctx, mdl, cfg.ValInputs, cfg.ValTargets, cfg.BatchSize)
			if err != nil {
				return history, errors.Wrapf(err, "epoch %d validation", epoch)
			}
		}
		summary.Duration = time.Since(start)
		history.Add(summary)
		log.Printf("epoch=%d/%d loss=%.4f val_loss=%.4f elapsed=%s",
			epoch, cfg.Epochs, summary.Loss, summary.ValLoss, summary.Duration.Round(time.Millisecond))
	}
	return history, nil
}

func runEpoch(ctx context.Context, mdl model.Model, cfg FitConfig, epoch, steps int) (float64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches, batchErr, err := dataset.StartSampler(ctx, dataset.SamplerOptions{
		Inputs:    cfg.Inputs,
		Targets:   cfg.Targets,
		BatchSize: cfg.BatchSize,
		Shuffle:   cfg.Shuffle,
		Seed:      cfg.Seed,
		Epoch:     epoch,
	})
	if err != nil {
		return 0, err
	}

	var window metrics.Window
	total, seen := 0.0, 0
	for {
		startData := time.Now()
		batch, ok, err := nextBatch(ctx, batches, batchErr)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		loss, err := mdl.TrainStep(toModelBatch(batch))
		if err != nil {
			return 0, err
		}
		computeTime := time.Since(startCompute)

		window.Record(batch.Size(), dataTime, computeTime, loss)
		total += loss * float64(batch.Size())
		seen += batch.Size()

		if batch.Step%cfg.LogEvery == 0 || batch.Step == steps {
			snap := window.Snapshot()
			log.Printf("epoch=%d step=%d/%d images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f",
				epoch,
				batch.Step,
				steps,
				snap.ImagesPerSec,
				snap.AvgDataMS,
				snap.AvgComputeMS,
				snap.AvgLoss,
			)
		}
	}
	if seen == 0 {
		return 0, nil
	}
	return total / float64(seen), nil
}

// Evaluate returns the sample-weighted mean loss of mdl over a paired set,
// visited in order without updating weights.
func Evaluate(ctx context.Context, mdl model.Model, inputs, targets *tensor.Tensor, batchSize int) (float64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches, batchErr, err := dataset.StartSampler(ctx, dataset.SamplerOptions{
		Inputs:    inputs,
		Targets:   targets,
		BatchSize: batchSize,
	})
	if err != nil {
		return 0, err
	}
	total, seen := 0.0, 0
	for {
		batch, ok, err := nextBatch(ctx, batches, batchErr)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		loss, err := mdl.Evaluate(toModelBatch(batch))
		if err != nil {
			return 0, err
		}
		total += loss * float64(batch.Size())
		seen += batch.Size()
	}
	if seen == 0 {
		return 0, nil
	}
	return total / float64(seen), nil
}

// nextBatch returns the next batch, or ok=false once the epoch is exhausted.
func nextBatch(ctx context.Context, batches <-chan dataset.Batch, errs <-chan error) (dataset.Batch, bool, error) {
	select {
	case <-ctx.Done():
		return dataset.Batch{}, false, ctx.Err()
	case batch, ok := <-batches:
		if ok {
			return batch, true, nil
		}
		if err := <-errs; err != nil {
			return dataset.Batch{}, false, err
		}
		return dataset.Batch{}, false, nil
	}
}

func toModelBatch(b dataset.Batch) model.Batch {
	return model.Batch{Inputs: b.Inputs, Targets: b.Targets, Size: b.Size()}
}

func checkPair(mdl model.Model, inputs, targets *tensor.Tensor) error {
	if inputs == nil || targets == nil {
		return errors.New("inputs and targets are required")
	}
	if err := tensor.CheckSameShape(inputs, targets); err != nil {
		return err
	}
	want := append(tensor.Shape{inputs.Len()}, mdl.InputShape()...)
	if !inputs.Shape().Equal(want) {
		return errors.Wrapf(tensor.ErrShapeMismatch, "model wants %v, have %v", want, inputs.Shape())
	}
	return nil
}
