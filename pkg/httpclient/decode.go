package httpclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// DecodeBody reverses a Content-Encoding of gzip, deflate or br. Unknown or
// empty encodings return the body unchanged.
func DecodeBody(encoding string, body []byte) ([]byte, error) {
	var r io.Reader
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("decode gzip: %w", err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(body))
		defer func() { _ = fr.Close() }()
		r = fr
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	default:
		return body, nil
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", encoding, err)
	}
	return raw, nil
}
