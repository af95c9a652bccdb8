// Package charset resolves the text encodings accepted for input and output
// files. Latin-1 maps every byte to a rune, so undecodable input is
// impossible; UTF-8 decoding replaces invalid sequences with U+FFFD instead of
// failing the read.
package charset

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Default is the encoding used when none is configured.
const Default = "latin1"

// Lookup returns the encoding registered under name.
func Lookup(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1, nil
	case "utf-8", "utf8":
		return unicode.UTF8, nil
	default:
		return nil, fmt.Errorf("charset: unsupported encoding %q", name)
	}
}

// NewReader decodes r from enc into UTF-8.
func NewReader(r io.Reader, enc encoding.Encoding) io.Reader {
	return transform.NewReader(r, enc.NewDecoder())
}

// NewWriter encodes UTF-8 written to w into enc. Runes enc cannot represent
// are replaced rather than failing the write. Close flushes pending bytes but
// does not close w.
func NewWriter(w io.Writer, enc encoding.Encoding) io.WriteCloser {
	return transform.NewWriter(w, encoding.ReplaceUnsupported(enc.NewEncoder()))
}
