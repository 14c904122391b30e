package storage

import (
	"errors"
	"time"

	favarch "github.com/codedcells/favarch/internal"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found in index")

// MediaRecord is a row of the media index table.
type MediaRecord struct {
	// ID is the submission identifier.
	ID int64
	// Path is the stored file's path relative to the archive root.
	Path string
	// Fingerprint is the perceptual hash, nil when the asset is not an
	// image or could not be hashed.
	Fingerprint *int64
}

// Match is one result of a similarity search, ordered by ascending distance.
type Match struct {
	// ID is the submission identifier.
	ID int64
	// Path is the stored file's path relative to the archive root.
	Path string
	// Fingerprint is the stored hash the query matched against.
	Fingerprint int64
	// Distance is the Hamming distance to the query fingerprint.
	Distance int
}

// Storer defines the index operations the pipeline and the query front end
// rely on. The pipeline is the only writer; readers may share the instance.
type Storer interface {
	// InsertFavorites records (user, id) favorite relations, swallowing
	// duplicates, and returns the identifiers that were actually new.
	InsertFavorites(user string, ids []int64) ([]int64, error)
	// UpsertSubmission inserts or replaces a submission metadata row and
	// reports whether the identifier was previously unknown.
	UpsertSubmission(sub favarch.Submission) (bool, error)
	// UpsertPage inserts or replaces the compressed page snapshot for an
	// identifier.
	UpsertPage(id int64, compressed []byte, capturedAt time.Time) error
	// GetPage returns the compressed snapshot for an identifier, or
	// ErrNotFound.
	GetPage(id int64) ([]byte, error)
	// UpsertMedia inserts or replaces the media index row for an identifier.
	UpsertMedia(id int64, relPath string, fingerprint *int64) error
	// GetMedia returns the media row for an identifier, or ErrNotFound.
	GetMedia(id int64) (*MediaRecord, error)
	// MediaExists reports which of the given identifiers already have a
	// media index row.
	MediaExists(ids []int64) (map[int64]bool, error)
	// MediaByPath returns media rows whose path contains the substring.
	MediaByPath(substr string) ([]MediaRecord, error)
	// MissingPages returns identifiers known to the metadata table but
	// absent from the snapshot table, in a bounded batch.
	MissingPages(limit, offset int) ([]int64, error)
	// MissingMedia returns identifiers known to the metadata table but
	// absent from the media index, in a bounded batch.
	MissingMedia(limit, offset int) ([]int64, error)
	// FindSimilar returns media rows within maxDistance of the query
	// fingerprint, ascending by distance. Rows without a fingerprint never
	// match. An exact match short-circuits the scan.
	FindSimilar(fingerprint int64, maxDistance int) ([]Match, error)
	// HashlessMedia returns media rows missing a fingerprint, bounded.
	HashlessMedia(limit int) ([]MediaRecord, error)
	// SetMediaHash backfills the fingerprint of an existing media row.
	SetMediaHash(id int64, fingerprint int64) error
	// Close closes the index.
	Close() error
}
