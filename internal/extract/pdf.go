package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDF extracts text from a PDF, page by page, pages joined with blank
// lines. Pages that yield no text (scanned images) are skipped; an
// encrypted or corrupt document surfaces as an error or as empty text,
// which the ingestion pipeline rejects via its minimum-content floor.
func PDF(data []byte) (_ string, retErr error) {
	// The parser is known to panic on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("parsing pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	var parts []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not fail the document.
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n\n"), nil
}
