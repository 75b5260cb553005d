package extract

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Text decodes a plain-text or markdown file. Encodings are attempted
// in order: UTF-8, Windows-1251, then ISO-8859-1 as the permissive
// fallback that accepts any byte sequence.
func Text(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}

	// Windows-1251 maps all but one byte; a replacement rune in the
	// output means the file wasn't really CP1251.
	if decoded, err := charmap.Windows1251.NewDecoder().Bytes(data); err == nil {
		s := string(decoded)
		if !strings.ContainsRune(s, utf8.RuneError) {
			return s
		}
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		// ISO-8859-1 decodes every byte; treat a failure as raw bytes.
		return string(data)
	}
	return string(decoded)
}
