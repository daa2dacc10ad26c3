package model

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/pkg/errors"
)

type checkpoint struct {
	Height, Width, Channels, Filters int
	Params                           map[string][]float32
}

// Save writes the architecture and parameters as a gob stream.
func (m *Autoencoder) Save(w io.Writer) error {
	cp := checkpoint{
		Height:   m.opts.Height,
		Width:    m.opts.Width,
		Channels: m.opts.Channels,
		Filters:  m.opts.Filters,
		Params:   make(map[string][]float32, len(m.params)),
	}
	for _, p := range m.params {
		cp.Params[p.name] = p.value
	}
	return gob.NewEncoder(w).Encode(cp)
}

// Load replaces the parameters with those of a checkpoint written by Save.
// The architecture must match. Optimizer moments restart from zero.
func (m *Autoencoder) Load(r io.Reader) error {
	var cp checkpoint
	if err := gob.NewDecoder(r).Decode(&cp); err != nil {
		return errors.Wrap(err, "decode checkpoint")
	}
	if cp.Height != m.opts.Height || cp.Width != m.opts.Width || cp.Channels != m.opts.Channels || cp.Filters != m.opts.Filters {
		return errors.Errorf("checkpoint: architecture %dx%dx%d/%d does not match %dx%dx%d/%d",
			cp.Height, cp.Width, cp.Channels, cp.Filters,
			m.opts.Height, m.opts.Width, m.opts.Channels, m.opts.Filters)
	}
	for _, p := range m.params {
		v, ok := cp.Params[p.name]
		if !ok {
			return errors.Errorf("checkpoint: missing %s", p.name)
		}
		if len(v) != len(p.value) {
			return errors.Errorf("checkpoint: %s has %d values, want %d", p.name, len(v), len(p.value))
		}
	}
	for _, p := range m.params {
		copy(p.value, cp.Params[p.name])
	}
	m.opt = newAdam(m.opts.LearningRate, m.params)
	return nil
}

// SaveFile writes a checkpoint to path.
func (m *Autoencoder) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create checkpoint")
	}
	if err := m.Save(f); err != nil {
		f.Close()
		return errors.Wrap(err, "encode checkpoint")
	}
	return f.Close()
}

// LoadFile reads a checkpoint from path.
func (m *Autoencoder) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open checkpoint")
	}
	defer f.Close()
	return m.Load(f)
}
