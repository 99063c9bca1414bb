package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perstarkse/minnego/internal/embedding"
	"github.com/perstarkse/minnego/internal/queue"
	"github.com/perstarkse/minnego/internal/store/memstore"
)

func TestLooksGoodEnough_RejectsShortText(t *testing.T) {
	assert.False(t, looksGoodEnough("too short"))
}

func TestLooksGoodEnough_AcceptsLongAsciiProse(t *testing.T) {
	text := strings.Repeat("This is a reasonably long sentence with plenty of letters. ", 5)
	assert.True(t, looksGoodEnough(text))
}

func TestLooksGoodEnough_RejectsLowLetterRatio(t *testing.T) {
	text := strings.Repeat("12345 67890 ", 20)
	assert.False(t, looksGoodEnough(text))
}

func TestIsPDF_DetectsByMimeOrExtension(t *testing.T) {
	assert.True(t, isPDF("application/pdf", "whatever.bin"))
	assert.True(t, isPDF("", "report.PDF"))
	assert.False(t, isPDF("text/plain", "notes.txt"))
}

func TestCollapseWhitespace_JoinsFieldsWithSingleSpace(t *testing.T) {
	assert.Equal(t, "a b c", collapseWhitespace("  a\n\tb   c  "))
}

func TestExtractURL_StripsScriptsAndReturnsBodyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Hi</title><script>evil()</script></head><body><p>Hello world</p></body></html>`))
	}))
	defer srv.Close()

	st := memstore.New()
	p := NewPipeline(st, embedding.NewHashed(8), nil, nil, nil, DefaultConfig())

	result, err := p.extractURL(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "Hello world")
	assert.NotContains(t, result.Text, "evil()")
	require.NotNil(t, result.URL)
	assert.Equal(t, "Hi", result.URL.Title)
}

func TestExtractFile_PlainTextPassesThrough(t *testing.T) {
	st := memstore.New()
	p := NewPipeline(st, embedding.NewHashed(8), nil, nil, nil, DefaultConfig())

	ext, err := p.extractFile(context.Background(), queue.IngestionPayload{
		Kind:     queue.PayloadFile,
		FileName: "notes.txt",
		MimeType: "text/plain",
		FileData: []byte("plain text content"),
	})
	require.NoError(t, err)
	assert.Equal(t, "plain text content", ext.Text)
	require.NotNil(t, ext.File)
	assert.Equal(t, "notes.txt", ext.File.FileName)
}
