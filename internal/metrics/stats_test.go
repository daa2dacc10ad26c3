package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(64, 20*time.Millisecond, 10*time.Millisecond, 1.2)
	w.Record(64, 10*time.Millisecond, 20*time.Millisecond, 0.8)
	snap := w.Snapshot()
	if math.Abs(snap.ImagesPerSec-2133.3333) > 1 {
		t.Fatalf("unexpected throughput %.2f", snap.ImagesPerSec)
	}
	if w.samples != 0 || w.steps != 0 || w.lossSum != 0 {
		t.Fatalf("window was not reset")
	}
	if snap.LastLoss != 0.8 {
		t.Fatalf("expected last loss 0.8, got %.2f", snap.LastLoss)
	}
	if math.Abs(snap.AvgLoss-1.0) > 1e-9 {
		t.Fatalf("expected average loss 1.0, got %.4f", snap.AvgLoss)
	}
}

func TestHistory(t *testing.T) {
	var h History
	if _, ok := h.Best(); ok {
		t.Fatalf("empty history reported a best epoch")
	}
	if h.MeanLoss() != 0 {
		t.Fatalf("expected zero mean loss for empty history")
	}
	h.Add(Epoch{Epoch: 1, Loss: 0.3, ValLoss: 0.2})
	h.Add(Epoch{Epoch: 2, Loss: 0.1, ValLoss: 0.15})

	if math.Abs(h.MeanLoss()-0.2) > 1e-9 {
		t.Fatalf("expected mean loss 0.2, got %f", h.MeanLoss())
	}
	best, ok := h.Best()
	if !ok || best.Epoch != 2 {
		t.Fatalf("expected epoch 2 to be best, got %+v", best)
	}
	if got := h.ValLoss(); len(got) != 2 || got[0] != 0.2 {
		t.Fatalf("unexpected val loss series %v", got)
	}
}
