package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a denoising run.
type Config struct {
	DataDirs      []string `yaml:"data_dirs"`
	Download      bool     `yaml:"download"`
	Mirror        string   `yaml:"mirror"`
	VerifyDigests bool     `yaml:"verify_digests"`
	TrainLimit    int      `yaml:"train_limit"`
	TestLimit     int      `yaml:"test_limit"`

	NoiseFactor float64 `yaml:"noise_factor"`
	NoiseStdDev float64 `yaml:"noise_stddev"`

	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	Shuffle      bool    `yaml:"shuffle"`
	LearningRate float64 `yaml:"learning_rate"`
	Filters      int     `yaml:"filters"`
	NumWorkers   int     `yaml:"num_workers"`
	Seed         int64   `yaml:"seed"`
	LogEvery     int     `yaml:"log_every"`

	OutputDir     string `yaml:"output_dir"`
	Checkpoint    string `yaml:"checkpoint"`
	Resume        bool   `yaml:"resume"`
	SampleIndices []int  `yaml:"sample_indices"`
}

// Default returns the configuration of the reference run: two epochs of
// 128-image batches on shuffled data with noise factor 0.5.
func Default() *Config {
	return &Config{
		DataDirs:      []string{"data/mnist"},
		VerifyDigests: true,
		NoiseFactor:   0.5,
		NoiseStdDev:   1.0,
		Epochs:        2,
		BatchSize:     128,
		Shuffle:       true,
		LearningRate:  0.001,
		Filters:       32,
		Seed:          42,
		LogEvery:      50,
		OutputDir:     "out",
	}
}

// Overrides captures CLI supplied values. Epochs is a pointer because zero
// epochs is a valid run.
type Overrides struct {
	DataDir    string
	Download   bool
	Epochs     *int
	BatchSize  int
	NumWorkers int
	Seed       int64
	LogEvery   int
	TrainLimit int
	TestLimit  int
	OutputDir  string
	Checkpoint string
	Resume     bool
}

// Load reads a Config from YAML on top of Default and validates it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML from r on top of Default. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataDir != "" {
		c.DataDirs = append([]string{o.DataDir}, c.DataDirs...)
	}
	if o.Download {
		c.Download = true
	}
	if o.Epochs != nil {
		c.Epochs = *o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.TrainLimit > 0 {
		c.TrainLimit = o.TrainLimit
	}
	if o.TestLimit > 0 {
		c.TestLimit = o.TestLimit
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.Checkpoint != "" {
		c.Checkpoint = o.Checkpoint
	}
	if o.Resume {
		c.Resume = true
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if len(c.DataDirs) == 0 {
		return errors.New("at least one data dir must be set")
	}
	if c.NoiseFactor < 0 || c.NoiseStdDev < 0 {
		return errors.Errorf("noise_factor and noise_stddev must be >= 0 (got %g, %g)", c.NoiseFactor, c.NoiseStdDev)
	}
	if c.Epochs < 0 {
		return errors.Errorf("epochs must be >= 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.Filters <= 0 {
		return errors.Errorf("filters must be > 0 (got %d)", c.Filters)
	}
	if c.NumWorkers < 0 {
		return errors.Errorf("num_workers must be >= 0 (got %d)", c.NumWorkers)
	}
	if c.TrainLimit < 0 || c.TestLimit < 0 {
		return errors.New("train_limit and test_limit must be >= 0")
	}
	if c.Resume && c.Checkpoint == "" {
		return errors.New("resume requires a checkpoint path")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir must be set")
	}
	for _, idx := range c.SampleIndices {
		if idx < 0 {
			return errors.Errorf("sample_indices must be >= 0 (got %d)", idx)
		}
	}
	if c.LogEvery <= 0 {
		return errors.Errorf("log_every must be > 0 (got %d)", c.LogEvery)
	}
	return nil
}
