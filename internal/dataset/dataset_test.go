package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleSquadJSON = `{
  "data": [
    {
      "title": "Alpha Project!",
      "paragraphs": [
        {
          "context": "The Alpha project began in 1998.",
          "qas": [
            {"id": "q1", "question": " When did it begin? ", "answers": [{"text": "1998"}, {"text": "1998"}], "is_impossible": false},
            {"id": "q2", "question": "Unanswerable?", "answers": [], "is_impossible": true}
          ]
        }
      ]
    },
    {
      "title": "",
      "paragraphs": [
        {"context": "Untitled context.", "qas": []}
      ]
    }
  ]
}`

const sampleManifestYAML = `
default_dataset: squad-mini
datasets:
  - id: squad-mini
    label: SQuAD v2 (mini)
    category: qa
    raw: raw/squad-mini.json
    converted: converted/squad-mini.json
    include_unanswerable: false
    slices:
      - id: smoke
        label: Smoke slice
        limit: 10
        seed: 7
`

func writeTempManifest(t *testing.T, dir string) (string, string) {
	t.Helper()
	rawPath := filepath.Join(dir, "raw", "squad-mini.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(rawPath), 0o755))
	require.NoError(t, os.WriteFile(rawPath, []byte(sampleSquadJSON), 0o644))

	manifestPath := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(sampleManifestYAML), 0o644))
	return manifestPath, rawPath
}

func TestLoadManifest_ResolvesDefaultDataset(t *testing.T) {
	dir := t.TempDir()
	manifestPath, _ := writeTempManifest(t, dir)

	catalog, err := LoadManifest(manifestPath)
	require.NoError(t, err)

	entry, err := catalog.Default()
	require.NoError(t, err)
	require.Equal(t, "squad-mini", entry.ID)
	require.True(t, filepath.IsAbs(entry.Raw))
	require.True(t, filepath.IsAbs(entry.Converted))

	slice, err := entry.Slice("smoke")
	require.NoError(t, err)
	require.NotNil(t, slice.Limit)
	require.Equal(t, 10, *slice.Limit)
}

func TestLoadManifest_UnknownDatasetErrors(t *testing.T) {
	dir := t.TempDir()
	manifestPath, _ := writeTempManifest(t, dir)

	catalog, err := LoadManifest(manifestPath)
	require.NoError(t, err)

	_, err = catalog.Dataset("does-not-exist")
	require.Error(t, err)
}

func TestLoadCorpus_ConvertsAndCachesSquad(t *testing.T) {
	dir := t.TempDir()
	manifestPath, _ := writeTempManifest(t, dir)

	catalog, err := LoadManifest(manifestPath)
	require.NoError(t, err)
	entry, err := catalog.Default()
	require.NoError(t, err)

	c, err := LoadCorpus(entry, false)
	require.NoError(t, err)
	require.Equal(t, "squad-mini", c.DatasetID)
	require.Len(t, c.Paragraphs, 2)

	require.Equal(t, "alpha-project-0", c.Paragraphs[0].ID)
	require.Equal(t, "Alpha Project!", c.Paragraphs[0].Title)
	require.Len(t, c.Paragraphs[0].Questions, 2)
	require.Equal(t, "When did it begin?", c.Paragraphs[0].Questions[0].Text)
	require.Equal(t, []string{"1998"}, c.Paragraphs[0].Questions[0].Answers)
	require.True(t, c.Paragraphs[0].Questions[1].IsImpossible)

	require.Equal(t, "article-1-0", c.Paragraphs[1].ID)

	require.FileExists(t, entry.Converted)

	// A second load reads the cache rather than reconverting; removing
	// the raw file proves the cache path was taken.
	require.NoError(t, os.Remove(entry.Raw))
	cached, err := LoadCorpus(entry, false)
	require.NoError(t, err)
	require.Equal(t, c.Paragraphs, cached.Paragraphs)
}

func TestLoadCorpus_ForceConvertRequiresRawFile(t *testing.T) {
	dir := t.TempDir()
	manifestPath, _ := writeTempManifest(t, dir)

	catalog, err := LoadManifest(manifestPath)
	require.NoError(t, err)
	entry, err := catalog.Default()
	require.NoError(t, err)

	_, err = LoadCorpus(entry, false)
	require.NoError(t, err)

	_, err = LoadCorpus(entry, true)
	require.NoError(t, err, "raw file still present, forced reconvert should succeed")

	require.NoError(t, os.Remove(entry.Raw))
	_, err = LoadCorpus(entry, true)
	require.Error(t, err, "forced reconvert without the raw file should fail")
}

func TestDedupeStrings_SortsTrimsAndDropsBlanks(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, dedupeStrings([]string{" b ", "a", "", "  ", "a"}))
}

func TestSlugify_FallsBackOnEmptyTitle(t *testing.T) {
	require.Equal(t, "article-3", slugify("   ", 3))
	require.Equal(t, "hello-world", slugify("Hello, World!!", 0))
}
