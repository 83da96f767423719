package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"xsidir/internal/xsi"
)

// jsonRenderer writes the records as a JSON array indented with four spaces.
// Non-ASCII characters are written as \uXXXX escapes.
type jsonRenderer struct{}

func (jsonRenderer) Render(w io.Writer, d *xsi.Directory) error {
	records := d.Records()
	if records == nil {
		records = []xsi.Record{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	out := asciiEscape(bytes.TrimRight(buf.Bytes(), "\n"))
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// asciiEscape rewrites every non-ASCII rune of an encoded JSON document as a
// \u escape, using surrogate pairs above the BMP. Non-ASCII bytes can only
// occur inside string literals, so the result is equivalent JSON.
func asciiEscape(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for len(b) > 0 {
		if b[0] < utf8.RuneSelf {
			out = append(out, b[0])
			b = b[1:]
			continue
		}
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		if r > 0xFFFF {
			r -= 0x10000
			out = fmt.Appendf(out, `\u%04x\u%04x`, 0xD800+(r>>10), 0xDC00+(r&0x3FF))
			continue
		}
		out = fmt.Appendf(out, `\u%04x`, r)
	}
	return out
}
