package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/ingest/pdfrender"
	"github.com/perstarkse/minnego/internal/llmclient"
	"github.com/perstarkse/minnego/internal/model"
	"github.com/perstarkse/minnego/internal/queue"
)

// PDF fallback thresholds, grounded on pdf_ingestion.rs's
// try_fast_path/looks_good_enough heuristic.
const (
	fastPathMinChars     = 150
	fastPathMinASCII     = 0.7
	fastPathMinLetters   = 0.3
	maxVisionPages       = 50
	pagesPerVisionBatch  = 4
	maxVisionAttempts    = 2
	pdfMarkdownPrompt    = "Convert these PDF pages to clean Markdown. Preserve headings, lists, tables, blockquotes, code fences, and inline formatting. Keep the original reading order, avoid commentary, and do NOT wrap the entire response in a Markdown code block."
	pdfMarkdownRetry     = "You must transcribe the provided PDF page images into accurate Markdown. The images are already supplied, so do not respond that you cannot view them. Extract all visible text, tables, and structure, and do NOT wrap the overall response in a Markdown code block."
)

// extracted is the Extract stage's output: plain text plus whichever
// source metadata the payload kind produces.
type extracted struct {
	Text string
	File *model.FileInfo
	URL  *model.URLInfo
}

// extract dispatches on the payload's kind, mirroring
// storage.Manager.SaveDocument's extension-driven dispatch generalized
// to the full text/file/url variants and the PDF vision fallback.
func (p *Pipeline) extract(ctx context.Context, payload queue.IngestionPayload) (extracted, error) {
	switch payload.Kind {
	case queue.PayloadText:
		return extracted{Text: strings.TrimSpace(payload.Text)}, nil

	case queue.PayloadURL:
		return p.extractURL(ctx, payload.URL)

	case queue.PayloadFile:
		return p.extractFile(ctx, payload)

	default:
		return extracted{}, apperr.Newf(apperr.KindValidation, "unknown ingestion payload kind %q", payload.Kind)
	}
}

func (p *Pipeline) extractURL(ctx context.Context, rawURL string) (extracted, error) {
	if rawURL == "" {
		return extracted{}, apperr.New(apperr.KindValidation, "url payload missing url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return extracted{}, apperr.Wrap(apperr.KindProcessing, "build url ingestion request", err)
	}
	resp, err := p.HTTPClient().Do(req)
	if err != nil {
		return extracted{}, apperr.Wrap(apperr.KindProcessing, "fetch url "+rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return extracted{}, apperr.Newf(apperr.KindProcessing, "fetching %s returned status %d", rawURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return extracted{}, apperr.Wrap(apperr.KindProcessing, "parse html from "+rawURL, err)
	}

	doc.Find("script, style, noscript").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	text := strings.TrimSpace(collapseWhitespace(doc.Find("body").Text()))
	if text == "" {
		return extracted{}, apperr.Newf(apperr.KindProcessing, "no extractable text at %s", rawURL)
	}

	return extracted{
		Text: text,
		URL:  &model.URLInfo{URL: rawURL, Title: title},
	}, nil
}

func (p *Pipeline) extractFile(ctx context.Context, payload queue.IngestionPayload) (extracted, error) {
	if len(payload.FileData) == 0 {
		return extracted{}, apperr.New(apperr.KindValidation, "file payload missing data")
	}

	sum := sha256.Sum256(payload.FileData)
	fileInfo := &model.FileInfo{
		FileName: payload.FileName,
		MimeType: payload.MimeType,
		SHA256:   hex.EncodeToString(sum[:]),
		SizeByte: int64(len(payload.FileData)),
	}

	var text string
	var err error
	if isPDF(payload.MimeType, payload.FileName) {
		text, err = p.extractPDF(ctx, payload.FileData)
	} else {
		text = strings.TrimSpace(string(payload.FileData))
	}
	if err != nil {
		return extracted{}, err
	}
	if text == "" {
		return extracted{}, apperr.Newf(apperr.KindProcessing, "no extractable text in %s", payload.FileName)
	}

	return extracted{Text: text, File: fileInfo}, nil
}

func isPDF(mimeType, fileName string) bool {
	return mimeType == "application/pdf" || strings.HasSuffix(strings.ToLower(fileName), ".pdf")
}

// extractPDF tries the fast text-layer path first; if the result looks
// too short or too noisy it falls back to rasterizing pages and
// transcribing them with a vision model, matching
// extract_pdf_content/try_fast_path/looks_good_enough.
func (p *Pipeline) extractPDF(ctx context.Context, data []byte) (string, error) {
	if fast, ok := tryFastPath(data); ok {
		return fast, nil
	}
	if p.Vision == nil {
		return "", apperr.New(apperr.KindProcessing, "PDF text extraction failed and no vision model is configured")
	}
	return p.visionTranscribePDF(ctx, data)
}

// tryFastPath runs the embedded PDF text-layer extractor and validates
// the result with looksGoodEnough; (false) signals "fall back to
// vision", not an error.
func tryFastPath(data []byte) (string, bool) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", false
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", false
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", false
	}
	text := strings.TrimSpace(string(raw))
	if !looksGoodEnough(text) {
		return "", false
	}
	return collapseWhitespace(text), true
}

// looksGoodEnough mirrors pdf_ingestion.rs's heuristic: long enough,
// mostly ASCII, and a minimum proportion of letters (only ASCII a-z and
// A-Z count as letters).
func looksGoodEnough(text string) bool {
	if len(text) < fastPathMinChars {
		return false
	}
	total := 0
	ascii := 0
	letters := 0
	for _, r := range text {
		total++
		if r <= 0x7F {
			ascii++
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			letters++
		}
	}
	if total == 0 {
		return false
	}
	if float64(ascii)/float64(total) < fastPathMinASCII {
		return false
	}
	return float64(letters)/float64(total) >= fastPathMinLetters
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// visionTranscribePDF rasterizes up to maxVisionPages pages in batches
// of pagesPerVisionBatch, asking the vision model to transcribe each
// batch to Markdown and retrying once with a sterner prompt on a
// refusal or empty response, mirroring vision_markdown.
func (p *Pipeline) visionTranscribePDF(ctx context.Context, data []byte) (string, error) {
	pageCount, err := p.PDFRenderer.PageCount(ctx, data)
	if err != nil {
		return "", apperr.Wrap(apperr.KindProcessing, "determine PDF page count", err)
	}
	if pageCount == 0 {
		return "", apperr.New(apperr.KindProcessing, "PDF appears to have no pages")
	}
	if pageCount > maxVisionPages {
		return "", apperr.Newf(apperr.KindProcessing, "PDF has %d pages which exceeds the vision processing limit of %d", pageCount, maxVisionPages)
	}

	pageNumbers := make([]int, pageCount)
	for i := range pageNumbers {
		pageNumbers[i] = i + 1
	}
	pages, err := p.PDFRenderer.Render(ctx, data, pageNumbers)
	if err != nil {
		return "", apperr.Wrap(apperr.KindProcessing, "render PDF pages", err)
	}

	var sections []string
	for start := 0; start < len(pages); start += pagesPerVisionBatch {
		end := start + pagesPerVisionBatch
		if end > len(pages) {
			end = len(pages)
		}
		batch := pages[start:end]

		markdown, err := p.visionBatch(ctx, batch)
		if err != nil {
			return "", err
		}
		sections = append(sections, markdown)
	}

	return strings.Join(sections, "\n\n"), nil
}

func (p *Pipeline) visionBatch(ctx context.Context, batch []pdfrender.Page) (string, error) {
	images := make([]string, 0, len(batch))
	for _, page := range batch {
		images = append(images, llmclient.DataURI("image/png", base64.StdEncoding.EncodeToString(page.PNG)))
	}

	var lastErr error
	for attempt := 0; attempt < maxVisionAttempts; attempt++ {
		prompt := pdfMarkdownPrompt
		if attempt > 0 {
			prompt = pdfMarkdownRetry
		}
		msg := llmclient.NewVisionMessage(llmclient.RoleUser, prompt, images...)
		content, err := p.Vision.Complete(ctx, []llmclient.Message{msg})
		if err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(content) == "" || llmclient.ContainsRefusal(content) {
			lastErr = apperr.New(apperr.KindProcessing, "vision model returned a low quality response")
			continue
		}
		return strings.TrimSpace(content), nil
	}
	if lastErr == nil {
		lastErr = apperr.New(apperr.KindProcessing, "vision model failed to transcribe PDF pages")
	}
	return "", lastErr
}

