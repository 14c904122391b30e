// Package imghash computes 64-bit perceptual fingerprints for archived
// images and the Hamming distances between them.
//
// Fingerprints are average hashes. The index stores them in a signed 64-bit
// column, so the unsigned hash bit-pattern is reinterpreted as two's
// complement on the way in and restored on the way out. That round trip is
// exact for every input; all hash algebra happens on the unsigned pattern.
package imghash

import (
	"fmt"
	"image"
	"io"
	"math/bits"
	"os"

	// Register the decoders for the image formats the upstream serves.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/corona10/goimagehash"
)

// FromImage computes the average hash of a decoded image, as a signed value
// ready for storage.
func FromImage(img image.Image) (int64, error) {
	h, err := goimagehash.AverageHash(img)
	if err != nil {
		return 0, fmt.Errorf("failed to compute average hash: %w", err)
	}
	return ToSigned(h.GetHash()), nil
}

// FromReader decodes an image from r and computes its fingerprint.
func FromReader(r io.Reader) (int64, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}
	return FromImage(img)
}

// FromFile computes the fingerprint of an image file on disk.
func FromFile(path string) (int64, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return 0, fmt.Errorf("failed to open image: %w", err)
	}
	defer func() { _ = f.Close() }()
	return FromReader(f)
}

// ToSigned reinterprets an unsigned 64-bit hash as two's-complement signed.
func ToSigned(v uint64) int64 {
	return int64(v) // #nosec G115 -- bit-pattern reinterpretation is the point
}

// ToUnsigned restores the unsigned bit-pattern of a stored hash.
func ToUnsigned(v int64) uint64 {
	return uint64(v) // #nosec G115
}

// Distance returns the Hamming distance between two stored fingerprints:
// the popcount of the XOR of their unsigned bit-patterns.
func Distance(a, b int64) int {
	return bits.OnesCount64(ToUnsigned(a) ^ ToUnsigned(b))
}
