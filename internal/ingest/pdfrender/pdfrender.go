// Package pdfrender declares the seam between the ingestion pipeline's
// PDF vision fallback and whatever rasterizes PDF pages into images.
// The production implementation is a headless-browser driver (the
// original drives headless Chrome over CDP); that is out of depth here
// and left as an interface with a stub so the pipeline's fallback logic
// and tests don't depend on a browser binary being present.
package pdfrender

import (
	"context"

	"github.com/perstarkse/minnego/internal/apperr"
)

// Page is one rasterized PDF page, encoded as PNG bytes.
type Page struct {
	Number int
	PNG    []byte
}

// Renderer rasterizes PDF pages for the vision-LLM fallback path.
type Renderer interface {
	// PageCount returns the number of pages in the PDF, without
	// rendering any of them.
	PageCount(ctx context.Context, pdfBytes []byte) (int, error)
	// Render rasterizes the requested 1-based page numbers into PNGs.
	Render(ctx context.Context, pdfBytes []byte, pageNumbers []int) ([]Page, error)
}

// Unavailable is a Renderer that always fails, used as the default
// when no real renderer is configured: callers get a clear
// KindProcessing error instead of a nil-pointer panic, and the fast
// text-layer path remains fully usable without it.
type Unavailable struct{}

func (Unavailable) PageCount(context.Context, []byte) (int, error) {
	return 0, apperr.New(apperr.KindProcessing, "no PDF page renderer is configured")
}

func (Unavailable) Render(context.Context, []byte, []int) ([]Page, error) {
	return nil, apperr.New(apperr.KindProcessing, "no PDF page renderer is configured")
}

var _ Renderer = Unavailable{}
