package dataset

import (
	"context"
	"log"
	"net/http"

	"github.com/pkg/errors"

	"denoise-forge/internal/tensor"
)

// ImageSize is the side length of a corpus image.
const ImageSize = 28

// Corpus holds the raw Uint8 image tensors of both splits, shaped [N,28,28].
type Corpus struct {
	Train *tensor.Tensor
	Test  *tensor.Tensor
}

// CorpusOptions configures LoadCorpus.
type CorpusOptions struct {
	Dirs          []string
	Download      bool
	Mirror        string
	VerifyDigests bool
	TrainLimit    int
	TestLimit     int
	Client        *http.Client
}

// LoadCorpus locates, optionally downloads and verifies, and decodes the corpus.
func LoadCorpus(ctx context.Context, opts CorpusOptions) (*Corpus, error) {
	files, err := DiscoverCorpus(opts.Dirs)
	if errors.Is(err, ErrCorpusNotFound) && opts.Download && len(opts.Dirs) > 0 {
		files, err = Download(ctx, opts.Client, opts.Mirror, opts.Dirs[0])
	}
	if err != nil {
		return nil, err
	}

	if opts.VerifyDigests {
		for _, path := range []string{files.Train, files.Test} {
			if err := VerifyDigest(path); err != nil {
				return nil, err
			}
		}
	}

	train, err := readSplit(files.Train)
	if err != nil {
		return nil, err
	}
	test, err := readSplit(files.Test)
	if err != nil {
		return nil, err
	}
	if opts.TrainLimit > 0 {
		train = train.Head(opts.TrainLimit)
	}
	if opts.TestLimit > 0 {
		test = test.Head(opts.TestLimit)
	}
	log.Printf("corpus dir=%s train=%v test=%v", files.Dir, train.Shape(), test.Shape())
	return &Corpus{Train: train, Test: test}, nil
}

func readSplit(path string) (*tensor.Tensor, error) {
	t, err := ReadIDXFile(path)
	if err != nil {
		return nil, err
	}
	if err := tensor.CheckShape(t, -1, ImageSize, ImageSize); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return t, nil
}
