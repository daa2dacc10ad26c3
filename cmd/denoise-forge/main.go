package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"denoise-forge/internal/config"
	"denoise-forge/internal/pipeline"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	dataDir := flag.String("data-dir", "", "Search this directory for the corpus first")
	download := flag.Bool("download", false, "Download the corpus when it is not found")
	epochs := flag.Int("epochs", -1, "Number of training epochs; 0 skips training, -1 keeps the config value")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	numWorkers := flag.Int("num-workers", 0, "Number of training workers")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N steps")
	trainLimit := flag.Int("train-limit", 0, "Use only the first N training images")
	testLimit := flag.Int("test-limit", 0, "Use only the first N test images")
	outputDir := flag.String("output-dir", "", "Directory for figures")
	checkpoint := flag.String("checkpoint", "", "Checkpoint path")
	resume := flag.Bool("resume", false, "Resume from the checkpoint")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var epochsOverride *int
	if *epochs >= 0 {
		epochsOverride = epochs
	}

	cfg.ApplyOverrides(config.Overrides{
		DataDir:    *dataDir,
		Download:   *download,
		Epochs:     epochsOverride,
		BatchSize:  *batchSize,
		NumWorkers: *numWorkers,
		Seed:       *seed,
		LogEvery:   *logEvery,
		TrainLimit: *trainLimit,
		TestLimit:  *testLimit,
		OutputDir:  *outputDir,
		Checkpoint: *checkpoint,
		Resume:     *resume,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Run(ctx, cfg)
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}
	for _, path := range res.Figures {
		log.Printf("figure=%s", path)
	}
}
