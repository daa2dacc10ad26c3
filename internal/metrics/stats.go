package metrics

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Window accumulates timing stats across multiple steps.
type Window struct {
	samples  int
	data     time.Duration
	compute  time.Duration
	steps    int
	lossSum  float64
	lastLoss float64
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.lossSum += loss
	w.lastLoss = loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.AvgLoss = w.lossSum / float64(w.steps)
	}
	snap.LastLoss = w.lastLoss

	w.samples = 0
	w.data = 0
	w.compute = 0
	w.steps = 0
	w.lossSum = 0
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	AvgLoss      float64
	LastLoss     float64
}

// Epoch summarizes one pass over the training split.
type Epoch struct {
	Epoch    int
	Loss     float64
	ValLoss  float64
	Duration time.Duration
}

// History collects per-epoch results of a Fit call.
type History struct {
	Epochs []Epoch
}

// Add appends an epoch summary.
func (h *History) Add(e Epoch) {
	h.Epochs = append(h.Epochs, e)
}

// Loss returns the training loss of every epoch in order.
func (h *History) Loss() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.Loss
	}
	return out
}

// ValLoss returns the validation loss of every epoch in order.
func (h *History) ValLoss() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.ValLoss
	}
	return out
}

// MeanLoss returns the training loss averaged over epochs, or 0 without epochs.
func (h *History) MeanLoss() float64 {
	if len(h.Epochs) == 0 {
		return 0
	}
	return stat.Mean(h.Loss(), nil)
}

// Best returns the epoch with the lowest validation loss.
func (h *History) Best() (Epoch, bool) {
	if len(h.Epochs) == 0 {
		return Epoch{}, false
	}
	best := h.Epochs[0]
	for _, e := range h.Epochs[1:] {
		if e.ValLoss < best.ValLoss {
			best = e
		}
	}
	return best, true
}
