package dataset

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/pkg/errors"
)

// ErrCorpusNotFound is returned when no search directory holds both splits.
var ErrCorpusNotFound = errors.New("dataset: corpus not found")

// Split names a partition of the corpus.
type Split string

const (
	Train Split = "train"
	Test  Split = "test"
)

var splitRegexp = map[Split]*regexp.Regexp{
	Train: regexp.MustCompile(`^train-images[.-]idx3-ubyte(\.gz)?$`),
	Test:  regexp.MustCompile(`^t10k-images[.-]idx3-ubyte(\.gz)?$`),
}

// CorpusFiles locates the image file of each split.
type CorpusFiles struct {
	Dir   string
	Train string
	Test  string
}

// DiscoverFiles returns paths beneath root whose base name matches split,
// sorted so that uncompressed files precede their .gz counterparts.
func DiscoverFiles(root string, split Split) ([]string, error) {
	re, ok := splitRegexp[split]
	if !ok {
		return nil, errors.Errorf("discover: unknown split %q", split)
	}
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if re.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "discover files")
	}
	sort.Strings(entries)
	return entries, nil
}

// DiscoverCorpus scans dirs in order and returns the first one holding both
// splits. Missing directories are skipped.
func DiscoverCorpus(dirs []string) (CorpusFiles, error) {
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return CorpusFiles{}, errors.Wrapf(err, "stat %s", dir)
		}
		train, err := DiscoverFiles(dir, Train)
		if err != nil {
			return CorpusFiles{}, err
		}
		test, err := DiscoverFiles(dir, Test)
		if err != nil {
			return CorpusFiles{}, err
		}
		if len(train) > 0 && len(test) > 0 {
			return CorpusFiles{Dir: dir, Train: train[0], Test: test[0]}, nil
		}
	}
	return CorpusFiles{}, errors.Wrapf(ErrCorpusNotFound, "searched %v", dirs)
}
