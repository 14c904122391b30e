// Package store places archived media on disk under a deterministic,
// hierarchically sharded layout. The path of every asset is a pure function
// of its identifier: no lookup is needed to know where a file would live,
// only to know whether it does.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/codedcells/favarch/pkg/imghash"
)

// imageExts are the extensions eligible for perceptual fingerprinting.
// Anything else is archived without a fingerprint.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// Store writes media files under a base directory, sharded by identifier.
type Store struct {
	baseDir string
}

// New creates a Store rooted at baseDir, creating the directory if needed.
func New(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("archive root is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create archive root: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// BaseDir returns the archive root.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// PathFor returns the relative storage path stem for an identifier, without
// extension. The identifier is zero-padded to nine digits and the first
// three digit pairs become nested directories, bounding fan-out to 100
// entries per level for up to 10^9 identifiers.
func PathFor(id int64) string {
	stem := fmt.Sprintf("%09d", id)
	return filepath.Join(stem[0:2], stem[2:4], stem[4:6], stem)
}

// IsImageExt reports whether ext (with leading dot, any case) is a
// fingerprintable image type.
func IsImageExt(ext string) bool {
	return imageExts[strings.ToLower(ext)]
}

// Result describes a stored asset.
type Result struct {
	// RelPath is the path of the stored file relative to the archive root,
	// extension included.
	RelPath string
	// Fingerprint is the perceptual hash of the asset, nil for non-image
	// assets and for images that could not be hashed.
	Fingerprint *int64
}

// Store writes the asset bytes for id under the sharded path with the given
// extension. Parent directories are created idempotently and the file is
// written to a temporary name in the leaf directory first, then renamed, so
// a failure never leaves a partial file at the final path.
func (s *Store) Store(id int64, r io.Reader, ext string) (*Result, error) {
	relPath := PathFor(id) + strings.ToLower(ext)
	finalPath := filepath.Join(s.baseDir, relPath)

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".favarch-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write asset %d: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to flush asset %d: %w", id, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to move asset %d into place: %w", id, err)
	}

	return &Result{RelPath: relPath, Fingerprint: s.fingerprint(finalPath, ext)}, nil
}

// StoreFile moves an existing file into the archive, keeping its extension.
// Used by the adoption paths (import folder, legacy trees).
func (s *Store) StoreFile(id int64, srcPath string) (*Result, error) {
	f, err := os.Open(srcPath) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() { _ = f.Close() }()
	res, err := s.Store(id, f, filepath.Ext(srcPath))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Resolve returns the absolute path for a stored relative path.
func (s *Store) Resolve(relPath string) string {
	return filepath.Join(s.baseDir, relPath)
}

// Fingerprint hashes an already-stored asset, returning nil for non-image
// extensions or when the image cannot be decoded. Hash failure is a
// degraded outcome, not an error: the asset stays archived either way.
func (s *Store) Fingerprint(relPath string) *int64 {
	return s.fingerprint(s.Resolve(relPath), filepath.Ext(relPath))
}

func (s *Store) fingerprint(absPath, ext string) *int64 {
	if !IsImageExt(ext) {
		return nil
	}
	h, err := imghash.FromFile(absPath)
	if err != nil {
		return nil
	}
	return &h
}
