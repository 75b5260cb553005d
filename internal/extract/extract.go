// Package extract converts uploaded document bytes into plain text.
//
// Supported formats: plain/markdown text (with legacy-encoding
// fallbacks), DOCX word-processing documents (paragraphs and table
// cells) and PDF (per-page text extraction).
//
// All extracted text has NUL bytes stripped: PostgreSQL cannot store
// them in text columns.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat indicates the file extension maps to no known
// document format.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// FromFile extracts plain text from data according to the filename's
// extension. Returns ErrUnsupportedFormat for unknown extensions.
func FromFile(data []byte, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	var (
		text string
		err  error
	)
	switch ext {
	case ".txt", ".md", ".text":
		text = Text(data)
	case ".docx", ".doc":
		text, err = DOCX(data)
	case ".pdf":
		text, err = PDF(data)
	default:
		return "", fmt.Errorf("%w: %q (use .txt, .md, .docx or .pdf)", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return "", err
	}

	return stripNUL(text), nil
}

// stripNUL removes NUL bytes from extracted text.
func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
