// Package extract pulls text and embedded images out of a PDF document.
// Text comes from go-fitz page by page; embedded images come from pdfcpu
// and are normalized to RGB PNGs with deterministic names.
package extract

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Image references one image pulled from the document: its source page
// (1-based), its sequence within that page (1-based), and the path the
// normalized bytes were saved to. Never mutated after creation.
type Image struct {
	PageNumber int
	Index      int
	Path       string
}

type Result struct {
	Text   string
	Images []Image
}

// Extractor pulls text and images from documents. The logger surfaces
// best-effort image extraction failures that would otherwise be silent.
type Extractor struct {
	logger *log.Logger
}

func NewExtractor(logger *log.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract returns the document's page-ordered text and, when outputDir is
// non-empty, its embedded images saved under outputDir. An empty outputDir
// requests text-only extraction. A document that cannot be opened yields a
// single extraction error; an individual broken image is skipped.
func (e *Extractor) Extract(ctx context.Context, documentPath, outputDir string) (Result, error) {
	text, err := extractText(ctx, documentPath)
	if err != nil {
		return Result{}, err
	}

	result := Result{Text: text}
	if strings.TrimSpace(outputDir) == "" {
		return result, nil
	}

	result.Images = e.extractImages(ctx, documentPath, outputDir)
	return result, nil
}

func extractText(ctx context.Context, documentPath string) (string, error) {
	doc, err := fitz.New(documentPath)
	if err != nil {
		return "", fmt.Errorf("open document %s: %w", filepath.Base(documentPath), err)
	}
	defer doc.Close()

	var b strings.Builder
	for pageNum := 0; pageNum < doc.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		pageText, err := doc.Text(pageNum)
		if err != nil {
			return "", fmt.Errorf("extract text from page %d: %w", pageNum+1, err)
		}
		b.WriteString(pageMarker(pageNum + 1))
		b.WriteString(pageText)
	}
	return b.String(), nil
}

// extractImages is best-effort: an image whose bytes cannot be decoded or
// converted is skipped, never aborting extraction of the rest. Machinery
// failures are logged so a broken extractor is distinguishable from a
// document that simply has no images.
func (e *Extractor) extractImages(ctx context.Context, documentPath, outputDir string) []Image {
	f, err := os.Open(documentPath)
	if err != nil {
		e.logger.Printf("image extraction open failed doc=%s err=%v", filepath.Base(documentPath), err)
		return nil
	}
	defer f.Close()

	pages, err := api.ExtractImagesRaw(f, nil, model.NewDefaultConfiguration())
	if err != nil {
		e.logger.Printf("image extraction failed doc=%s err=%v", filepath.Base(documentPath), err)
		return nil
	}

	var raw []model.Image
	for _, pageImages := range pages {
		for _, img := range pageImages {
			if img.Thumb {
				continue
			}
			raw = append(raw, img)
		}
	}

	// Page order first, then object number within a page: the stable
	// stand-in for the document's listed image order.
	sort.Slice(raw, func(i, j int) bool {
		if raw[i].PageNr != raw[j].PageNr {
			return raw[i].PageNr < raw[j].PageNr
		}
		return raw[i].ObjNr < raw[j].ObjNr
	})

	if len(raw) > 0 {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			e.logger.Printf("image output dir creation failed doc=%s dir=%s err=%v", filepath.Base(documentPath), outputDir, err)
			return nil
		}
	}

	var (
		images  []Image
		page    = -1
		pageSeq = 0
	)
	for _, img := range raw {
		select {
		case <-ctx.Done():
			return images
		default:
		}

		if img.PageNr != page {
			page = img.PageNr
			pageSeq = 0
		}
		pageSeq++

		data, err := io.ReadAll(img)
		if err != nil {
			e.logger.Printf("image read failed doc=%s page=%d err=%v", filepath.Base(documentPath), page, err)
			continue
		}
		normalized, err := normalizeToRGBPNG(data)
		if err != nil {
			e.logger.Printf("image normalize failed doc=%s page=%d err=%v", filepath.Base(documentPath), page, err)
			continue
		}

		path := filepath.Join(outputDir, imageFilename(page, pageSeq))
		if err := os.WriteFile(path, normalized, 0o644); err != nil {
			e.logger.Printf("image write failed doc=%s path=%s err=%v", filepath.Base(documentPath), path, err)
			continue
		}

		images = append(images, Image{
			PageNumber: page,
			Index:      pageSeq,
			Path:       path,
		})
	}
	return images
}

func pageMarker(pageNum int) string {
	return fmt.Sprintf("\n\n----- Page %d -----\n\n", pageNum)
}

func imageFilename(pageNum, index int) string {
	return fmt.Sprintf("page_%d-image_%d.png", pageNum, index)
}
