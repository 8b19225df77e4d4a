package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPageMarkerFormat(t *testing.T) {
	marker := pageMarker(3)
	if !strings.Contains(marker, "----- Page 3 -----") {
		t.Fatalf("unexpected marker %q", marker)
	}

	// Ascending marker order is the text-extraction contract.
	text := pageMarker(1) + "first" + pageMarker(2) + "second"
	if strings.Index(text, "Page 1") > strings.Index(text, "Page 2") {
		t.Fatal("expected page 1 marker before page 2 marker")
	}
	if got := strings.Count(text, "----- Page "); got != 2 {
		t.Fatalf("expected 2 page markers, got %d", got)
	}
}

func TestImageFilenameEncodesPageAndIndex(t *testing.T) {
	if got := imageFilename(11, 1); got != "page_11-image_1.png" {
		t.Fatalf("unexpected filename %q", got)
	}

	seen := map[string]bool{}
	for page := 1; page <= 3; page++ {
		for idx := 1; idx <= 3; idx++ {
			name := imageFilename(page, idx)
			if seen[name] {
				t.Fatalf("filename collision: %s", name)
			}
			seen[name] = true
		}
	}
}

func TestNormalizeToRGBPNGConvertsCMYK(t *testing.T) {
	src := image.NewCMYK(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			src.SetCMYK(x, y, color.CMYK{C: 200, M: 40, Y: 0, K: 10})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode cmyk jpeg: %v", err)
	}

	out, err := normalizeToRGBPNG(buf.Bytes())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	decoded, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode normalized image: %v", err)
	}
	if format != "png" {
		t.Fatalf("expected png output, got %s", format)
	}
	if _, ok := decoded.ColorModel().(color.Palette); ok {
		t.Fatal("expected a direct color model")
	}
	if decoded.ColorModel() == color.CMYKModel {
		t.Fatal("expected CMYK input to be converted to an additive model")
	}
}

func TestNormalizeToRGBPNGPassesThroughRGB(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	src.Set(1, 1, color.RGBA{R: 250, G: 10, B: 10, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	out, err := normalizeToRGBPNG(buf.Bytes())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	decoded, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode normalized image: %v", err)
	}
	r, g, b, _ := decoded.At(1, 1).RGBA()
	if r>>8 != 250 || g>>8 != 10 || b>>8 != 10 {
		t.Fatalf("expected pixel to survive normalization, got r=%d g=%d b=%d", r>>8, g>>8, b>>8)
	}
}

func TestNormalizeToRGBPNGRejectsGarbage(t *testing.T) {
	if _, err := normalizeToRGBPNG([]byte("not an image")); err == nil {
		t.Fatal("expected decode error for garbage input")
	}
}

// fixturePDF assembles a minimal two-page document with computed xref
// offsets. Page one optionally carries an 8x8 DCT-encoded image XObject.
func fixturePDF(t *testing.T, withImage bool) []byte {
	t.Helper()

	stream := func(body []byte) []byte {
		var b bytes.Buffer
		fmt.Fprintf(&b, "<< /Length %d >>\nstream\n", len(body))
		b.Write(body)
		b.WriteString("\nendstream")
		return b.Bytes()
	}

	content1 := "BT /F1 12 Tf 72 720 Td (Alpha report page) Tj ET"
	page1Resources := "<< /Font << /F1 7 0 R >> >>"
	if withImage {
		content1 += "\nq 64 0 0 64 72 560 cm /Im1 Do Q"
		page1Resources = "<< /Font << /F1 7 0 R >> /XObject << /Im1 8 0 R >> >>"
	}
	content2 := "BT /F1 12 Tf 72 720 Td (Beta appendix page) Tj ET"

	objects := [][]byte{
		[]byte("<< /Type /Catalog /Pages 2 0 R >>"),
		[]byte("<< /Type /Pages /Kids [3 0 R 5 0 R] /Count 2 >>"),
		[]byte("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources " + page1Resources + " /Contents 4 0 R >>"),
		stream([]byte(content1)),
		[]byte("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 7 0 R >> >> /Contents 6 0 R >>"),
		stream([]byte(content2)),
		[]byte("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"),
	}

	if withImage {
		src := image.NewRGBA(image.Rect(0, 0, 8, 8))
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				src.Set(x, y, color.RGBA{R: 220, G: 30, B: 30, A: 255})
			}
		}
		var jb bytes.Buffer
		if err := jpeg.Encode(&jb, src, &jpeg.Options{Quality: 90}); err != nil {
			t.Fatalf("encode fixture jpeg: %v", err)
		}

		var ib bytes.Buffer
		fmt.Fprintf(&ib, "<< /Type /XObject /Subtype /Image /Width 8 /Height 8 /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode /Length %d >>\nstream\n", jb.Len())
		ib.Write(jb.Bytes())
		ib.WriteString("\nendstream")
		objects = append(objects, ib.Bytes())
	}

	var (
		out     bytes.Buffer
		offsets []int
	)
	out.WriteString("%PDF-1.4\n")
	for i, obj := range objects {
		offsets = append(offsets, out.Len())
		fmt.Fprintf(&out, "%d 0 obj\n", i+1)
		out.Write(obj)
		out.WriteString("\nendobj\n")
	}

	xrefOffset := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(objects)+1)
	out.WriteString("0000000000 65535 f \n")
	for _, offset := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefOffset)
	return out.Bytes()
}

func writeFixturePDF(t *testing.T, dir string, withImage bool) string {
	t.Helper()
	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, fixturePDF(t, withImage), 0o644); err != nil {
		t.Fatalf("write fixture pdf: %v", err)
	}
	return path
}

func newTestExtractor() *Extractor {
	return NewExtractor(log.New(io.Discard, "", 0))
}

func TestExtractEmitsAscendingPageMarkers(t *testing.T) {
	path := writeFixturePDF(t, t.TempDir(), false)

	result, err := newTestExtractor().Extract(context.Background(), path, "")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if got := strings.Count(result.Text, "----- Page "); got != 2 {
		t.Fatalf("expected exactly 2 page markers, got %d in %q", got, result.Text)
	}
	first := strings.Index(result.Text, "----- Page 1 -----")
	second := strings.Index(result.Text, "----- Page 2 -----")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("expected ascending page markers, got first=%d second=%d", first, second)
	}
	if !strings.Contains(result.Text, "Alpha") || !strings.Contains(result.Text, "Beta") {
		t.Fatalf("expected page text to survive extraction, got %q", result.Text)
	}
	if len(result.Images) != 0 {
		t.Fatalf("expected no images in text-only mode, got %d", len(result.Images))
	}
}

func TestExtractSavesEmbeddedImages(t *testing.T) {
	dir := t.TempDir()
	path := writeFixturePDF(t, dir, true)
	outputDir := filepath.Join(dir, "images")

	result, err := newTestExtractor().Extract(context.Background(), path, outputDir)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if len(result.Images) != 1 {
		t.Fatalf("expected 1 extracted image, got %d", len(result.Images))
	}
	img := result.Images[0]
	if img.PageNumber != 1 || img.Index != 1 {
		t.Fatalf("expected page 1 image 1, got page=%d index=%d", img.PageNumber, img.Index)
	}
	if got := filepath.Base(img.Path); got != "page_1-image_1.png" {
		t.Fatalf("unexpected image filename %q", got)
	}

	saved, err := os.Open(img.Path)
	if err != nil {
		t.Fatalf("open saved image: %v", err)
	}
	defer saved.Close()
	if _, format, err := image.DecodeConfig(saved); err != nil || format != "png" {
		t.Fatalf("expected saved image to be png, format=%q err=%v", format, err)
	}
}

func TestExtractTextOnlyModeSkipsImages(t *testing.T) {
	dir := t.TempDir()
	path := writeFixturePDF(t, dir, true)

	result, err := newTestExtractor().Extract(context.Background(), path, "")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(result.Images) != 0 {
		t.Fatalf("expected image extraction to be skipped, got %d images", len(result.Images))
	}
	if entries, err := os.ReadDir(dir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				t.Fatalf("expected no output directory to be created, found %s", entry.Name())
			}
		}
	}
}

func TestExtractRejectsUnopenableDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("not a pdf at all"), 0o644); err != nil {
		t.Fatalf("write broken file: %v", err)
	}

	result, err := newTestExtractor().Extract(context.Background(), path, "")
	if err == nil {
		t.Fatal("expected an extraction error for an unopenable document")
	}
	if result.Text != "" || len(result.Images) != 0 {
		t.Fatalf("expected empty result on failure, got %+v", result)
	}
}

func TestExtractLogsImageMachineryFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeFixturePDF(t, dir, true)

	// A regular file at the output path makes directory creation fail.
	blocked := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocking file: %v", err)
	}

	var logBuf bytes.Buffer
	extractor := NewExtractor(log.New(&logBuf, "", 0))
	result, err := extractor.Extract(context.Background(), path, blocked)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if len(result.Images) != 0 {
		t.Fatalf("expected no images when the output dir cannot be created, got %d", len(result.Images))
	}
	if result.Text == "" {
		t.Fatal("expected text extraction to still succeed")
	}
	if !strings.Contains(logBuf.String(), "image output dir creation failed") {
		t.Fatalf("expected a machinery failure log line, got %q", logBuf.String())
	}
}
