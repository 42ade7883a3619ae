package summarize

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// ocrExts are the formats Tesseract can read directly. PDF and DICOM
// reports fall back to the static summary.
var ocrExts = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// OCR extracts text from image reports with Tesseract and prefixes the
// summary with an excerpt of the recognized findings. Non-image files and
// empty OCR output fall back to the static placeholder.
type OCR struct {
	// MaxExcerpt limits how much recognized text ends up in the summary.
	MaxExcerpt int
}

func NewOCR() *OCR {
	return &OCR{MaxExcerpt: 400}
}

func (o *OCR) Summarize(in Input) (string, error) {
	ext := strings.ToLower(filepath.Ext(in.FilePath))
	if _, ok := ocrExts[ext]; !ok || in.FilePath == "" {
		return Static{}.Summarize(in)
	}
	text, err := extractText(in.FilePath)
	if err != nil {
		log.Printf("ocr summarize failed for %s, using static summary: %v", in.FilePath, err)
		return Static{}.Summarize(in)
	}
	if text == "" {
		return Static{}.Summarize(in)
	}
	if len(text) > o.MaxExcerpt {
		text = text[:o.MaxExcerpt] + "…"
	}
	base, _ := Static{}.Summarize(in)
	return fmt.Sprintf("Extracted findings (%s): %s\n\n%s", in.Type, text, base), nil
}

// extractText runs a single OCR pass over a lightly preprocessed copy of
// the image: grayscale, contrast bump, sharpen, and upscale for small
// scans so Tesseract has enough pixels to work with.
func extractText(path string) (string, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	gray := imaging.Grayscale(img)
	gray = imaging.AdjustContrast(gray, 15)
	gray = imaging.Sharpen(gray, 0.7)
	if gray.Bounds().Dy() < 900 {
		gray = imaging.Resize(gray, 0, 1300, imaging.Lanczos)
	}

	tmp := path
	if tmpFile, err := os.CreateTemp("", "summarize-*.png"); err == nil {
		tmp = tmpFile.Name()
		_ = tmpFile.Close()
		if err := imaging.Save(gray, tmp); err != nil {
			tmp = path
		}
		defer os.Remove(tmp)
	}

	client := gosseract.NewClient()
	defer client.Close()
	_ = client.SetLanguage("eng")
	client.SetImage(tmp)
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr error: %w", err)
	}
	return normalizeText(text), nil
}

// normalizeText collapses whitespace and replaces newlines/tabs.
func normalizeText(t string) string {
	t = strings.ReplaceAll(t, "\n", " ")
	t = strings.ReplaceAll(t, "\t", " ")
	return strings.Join(strings.Fields(t), " ")
}
