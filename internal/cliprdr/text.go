package cliprdr

import (
	"fmt"
	"unicode/utf8"

	"github.com/rdpengine/core/internal/util"
)

// encodeClipboard converts a local-copy string into clipboard wire bytes
// and chooses the format to advertise for it (§4.E, update_clipboard).
// Text is CRLF-normalized first: "\n" becomes "\r\n" unless already
// preceded by "\r".
func encodeClipboard(text string) ([]byte, Format) {
	normalized := normalizeCRLF(text)

	if isASCII(normalized) {
		data := []byte(normalized)
		if len(data) == 0 || data[len(data)-1] != 0 {
			data = append(data, 0)
		}
		return data, FormatText
	}

	return util.ToUnicode(normalized, true), FormatUnicodeText
}

func normalizeCRLF(s string) string {
	out := make([]byte, 0, len(s)+8)
	prevWasCR := false
	for _, r := range s {
		if r == '\n' && !prevWasCR {
			out = append(out, '\r', '\n')
			prevWasCR = false
			continue
		}
		out = utf8.AppendRune(out, r)
		prevWasCR = r == '\r'
	}
	return string(out)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return false
		}
	}
	return true
}

// decodeClipboard decodes format-data-response bytes for format into a
// UTF-8 string (§4.E.1).
func decodeClipboard(data []byte, format Format) ([]byte, error) {
	switch format {
	case FormatText, FormatOEMText:
		if len(data) > 0 && data[len(data)-1] == 0 {
			data = data[:len(data)-1]
		}
		return data, nil
	case FormatUnicodeText:
		return []byte(util.FromUnicode(data)), nil
	default:
		return nil, fmt.Errorf("unsupported clipboard format %d for decode", format)
	}
}
