// Package codec compresses page snapshots for storage and restores them on
// read. Decompression is bit-exact; text recovery additionally normalizes
// legacy charsets to UTF-8 for callers that want markup rather than bytes.
package codec

import (
	"fmt"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/ianaindex"
)

// One encoder and one decoder serve the whole process; the EncodeAll and
// DecodeAll entry points are safe for concurrent use.
var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// Compress returns the zstd-compressed form of data.
func Compress(data []byte) []byte {
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/3))
}

// Decompress restores the exact bytes previously passed to Compress.
func Decompress(data []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	return out, nil
}

// DecompressText decompresses data and returns it as UTF-8 text. Snapshots
// that are already valid UTF-8 pass through untouched; anything else goes
// through charset detection. When no charset can be determined the raw bytes
// are returned rather than an error, since partial markup is still useful to
// the extraction step.
func DecompressText(data []byte) (string, error) {
	raw, err := Decompress(data)
	if err != nil {
		return "", err
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}

	res, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil {
		return string(raw), nil
	}
	enc, err := ianaindex.IANA.Encoding(res.Charset)
	if err != nil || enc == nil {
		return string(raw), nil
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw), nil
	}
	return string(decoded), nil
}
