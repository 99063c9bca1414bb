// Package dataset loads the evaluation dataset catalog (spec §6's
// "Dataset manifest (YAML)") and converts raw question-answering
// corpora into the internal/corpus.Corpus shape the evaluation driver
// consumes. Grounded on eval/src/datasets.rs's DatasetCatalog/convert
// machinery.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/perstarkse/minnego/internal/apperr"
)

// SliceEntry is one named, pre-tuned slice recorded against a dataset
// in the manifest (spec §6's manifest slices list), letting callers
// pass a short `--slice=<id>` instead of repeating every tuning flag.
type SliceEntry struct {
	ID                  string  `yaml:"id"`
	Label               string  `yaml:"label"`
	Description         string  `yaml:"description"`
	Limit               *int    `yaml:"limit"`
	CorpusLimit         *int    `yaml:"corpus_limit"`
	IncludeUnanswerable *bool   `yaml:"include_unanswerable"`
	Seed                *uint64 `yaml:"seed"`
}

// Entry describes one dataset the catalog knows how to load and
// convert.
type Entry struct {
	ID                   string       `yaml:"id"`
	Label                string       `yaml:"label"`
	Category             string       `yaml:"category"`
	Raw                  string       `yaml:"raw"`
	Converted            string       `yaml:"converted"`
	IncludeUnanswerable  bool         `yaml:"include_unanswerable"`
	Slices               []SliceEntry `yaml:"slices"`
}

type manifestFile struct {
	DefaultDataset string  `yaml:"default_dataset"`
	Datasets       []Entry `yaml:"datasets"`
}

// Catalog is the parsed manifest, resolved relative to the directory
// it was loaded from so `raw`/`converted` paths can stay relative in
// the YAML file.
type Catalog struct {
	dir            string
	defaultDataset string
	datasets       map[string]Entry
}

// LoadManifest reads and parses the dataset manifest at path.
func LoadManifest(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "reading dataset manifest "+path, err)
	}
	var parsed manifestFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "parsing dataset manifest "+path, err)
	}

	datasets := make(map[string]Entry, len(parsed.Datasets))
	for _, d := range parsed.Datasets {
		datasets[d.ID] = d
	}

	return &Catalog{
		dir:            filepath.Dir(path),
		defaultDataset: parsed.DefaultDataset,
		datasets:       datasets,
	}, nil
}

// Dataset looks up a dataset entry by id, with its raw/converted paths
// resolved against the manifest's directory.
func (c *Catalog) Dataset(id string) (Entry, error) {
	entry, ok := c.datasets[id]
	if !ok {
		return Entry{}, apperr.Newf(apperr.KindValidation, "unknown dataset %q", id)
	}
	entry.Raw = c.resolvePath(entry.Raw)
	entry.Converted = c.resolvePath(entry.Converted)
	return entry, nil
}

// Default returns the manifest's default dataset entry.
func (c *Catalog) Default() (Entry, error) {
	if c.defaultDataset == "" {
		return Entry{}, apperr.New(apperr.KindValidation, "dataset manifest declares no default_dataset")
	}
	return c.Dataset(c.defaultDataset)
}

// Slice looks up a named slice entry within a dataset by slice id.
func (e Entry) Slice(sliceID string) (SliceEntry, error) {
	for _, s := range e.Slices {
		if s.ID == sliceID {
			return s, nil
		}
	}
	return SliceEntry{}, apperr.Newf(apperr.KindValidation, "dataset %q has no slice %q", e.ID, sliceID)
}

func (c *Catalog) resolvePath(value string) string {
	if value == "" || filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(c.dir, value)
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}
