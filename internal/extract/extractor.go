// Package extract pulls text out of book files, keeping page boundaries where
// the format has them. PDFs yield one string per page; formats without a page
// concept yield a single logical page.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lu4p/cat"
)

// Extractor extracts page texts from book files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supported reports whether the extension (with leading dot) can be extracted.
func (e *Extractor) Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".rtf", ".odt", ".txt", ".md", ".rst", "":
		return true
	}
	return false
}

// Extract reads the file at path and returns its text split into pages. Only
// PDFs carry real page boundaries; every other format returns one page.
func (e *Extractor) Extract(path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		return extractPDF(content)
	case ".docx":
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		text, err := extractDOCX(content)
		if err != nil {
			return nil, err
		}
		return []string{text}, nil
	case ".rtf", ".odt":
		text, err := cat.File(path)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", ext, err)
		}
		return []string{text}, nil
	case ".txt", ".md", ".rst", "":
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		return []string{extractPlain(content)}, nil
	default:
		return nil, fmt.Errorf("unsupported format %q", ext)
	}
}
