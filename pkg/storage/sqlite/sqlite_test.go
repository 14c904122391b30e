package sqlite_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	favarch "github.com/codedcells/favarch/internal"
	"github.com/codedcells/favarch/pkg/storage"
	"github.com/codedcells/favarch/pkg/storage/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.New(
		filepath.Join(dir, "faves.db"),
		filepath.Join(dir, "pages.db"),
		filepath.Join(dir, "media.db"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestInsertFavorites(t *testing.T) {
	db := newTestDB(t)

	fresh, err := db.InsertFavorites("watcher", []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, fresh)

	fresh, err = db.InsertFavorites("watcher", []int64{2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, fresh, "duplicates must be swallowed silently")

	fresh, err = db.InsertFavorites("other", []int64{2})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, fresh, "favorites are scoped per user")
}

func TestUpsertSubmission(t *testing.T) {
	db := newTestDB(t)

	sub := favarch.Submission{
		ID:          42,
		Rating:      "general",
		Tags:        []string{"landscape", "sunset"},
		Title:       "Evening",
		User:        "painter",
		DisplayName: "Painter",
	}

	isNew, err := db.UpsertSubmission(sub)
	require.NoError(t, err)
	assert.True(t, isNew)

	sub.Title = "Evening (revised)"
	isNew, err = db.UpsertSubmission(sub)
	require.NoError(t, err)
	assert.False(t, isNew)

	var count int
	require.NoError(t, db.Conn.QueryRow("SELECT COUNT(*) FROM posts").Scan(&count))
	assert.Equal(t, 1, count, "repeated upserts must not duplicate rows")

	var title string
	require.NoError(t, db.Conn.QueryRow("SELECT title FROM posts WHERE id = 42").Scan(&title))
	assert.Equal(t, "Evening (revised)", title)
}

func TestUpsertSubmissionStoresAbsentFieldsAsNull(t *testing.T) {
	db := newTestDB(t)

	_, err := db.UpsertSubmission(favarch.Submission{ID: 7})
	require.NoError(t, err)

	for _, col := range []string{"rating", "thumbnail_url", "tags", "title", "user", "display_name", "description"} {
		var kind string
		require.NoError(t, db.Conn.QueryRow("SELECT typeof("+col+") FROM posts WHERE id = 7").Scan(&kind))
		assert.Equal(t, "null", kind, col)
	}

	_, err = db.UpsertSubmission(favarch.Submission{ID: 7, Title: "Named"})
	require.NoError(t, err)

	var kind string
	require.NoError(t, db.Conn.QueryRow("SELECT typeof(user) FROM posts WHERE id = 7").Scan(&kind))
	assert.Equal(t, "null", kind)
	require.NoError(t, db.Conn.QueryRow("SELECT typeof(title) FROM posts WHERE id = 7").Scan(&kind))
	assert.Equal(t, "text", kind)
}

func TestPageRoundTrip(t *testing.T) {
	db := newTestDB(t)

	blob := []byte{0x28, 0xb5, 0x2f, 0xfd, 0x01, 0x02}
	require.NoError(t, db.UpsertPage(7, blob, time.Now()))

	got, err := db.GetPage(7)
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	_, err = db.GetPage(8)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMediaRoundTrip(t *testing.T) {
	db := newTestDB(t)

	hash := int64(-1234567)
	require.NoError(t, db.UpsertMedia(9, "00/00/00/000000009.png", &hash))
	require.NoError(t, db.UpsertMedia(10, "00/00/00/000000010.swf", nil))

	rec, err := db.GetMedia(9)
	require.NoError(t, err)
	assert.Equal(t, "00/00/00/000000009.png", rec.Path)
	require.NotNil(t, rec.Fingerprint)
	assert.Equal(t, hash, *rec.Fingerprint)

	rec, err = db.GetMedia(10)
	require.NoError(t, err)
	assert.Nil(t, rec.Fingerprint)

	_, err = db.GetMedia(11)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMediaExists(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.UpsertMedia(1, "a.png", nil))
	require.NoError(t, db.UpsertMedia(3, "c.png", nil))

	exists, err := db.MediaExists([]int64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{1: true, 3: true}, exists)

	exists, err = db.MediaExists(nil)
	require.NoError(t, err)
	assert.Empty(t, exists)
}

func TestMediaByPath(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.UpsertMedia(1, "00/00/00/000000001.png", nil))
	require.NoError(t, db.UpsertMedia(2, "00/00/00/000000002.gif", nil))
	require.NoError(t, db.UpsertMedia(300, "00/00/03/000000300.png", nil))

	recs, err := db.MediaByPath(".png")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0].ID)
	assert.Equal(t, int64(300), recs[1].ID)

	recs, err = db.MediaByPath("no-such-fragment")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMissingPagesAndMedia(t *testing.T) {
	db := newTestDB(t)

	for _, id := range []int64{1, 2, 3, 4, 5} {
		_, err := db.UpsertSubmission(favarch.Submission{ID: id})
		require.NoError(t, err)
	}
	require.NoError(t, db.UpsertPage(2, []byte("x"), time.Now()))
	require.NoError(t, db.UpsertMedia(1, "00/00/00/000000001.png", nil))
	require.NoError(t, db.UpsertMedia(4, "00/00/00/000000004.png", nil))

	ids, err := db.MissingPages(100, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 4, 5}, ids)

	ids, err = db.MissingMedia(100, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 5}, ids)

	// Batched traversal covers the same set as one large query.
	first, err := db.MissingPages(2, 0)
	require.NoError(t, err)
	second, err := db.MissingPages(2, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, first)
	assert.Equal(t, []int64{4, 5}, second)
}

func TestFindSimilar(t *testing.T) {
	db := newTestDB(t)

	base := int64(-1)
	dist := func(bits int) int64 { return base ^ int64(1<<bits-1) }

	hashes := map[int64]int64{
		1: base,    // distance 0
		2: dist(3), // distance 3
		3: dist(6), // distance 6
		4: dist(9), // distance 9
	}
	for id, h := range hashes {
		h := h
		require.NoError(t, db.UpsertMedia(id, "p", &h))
	}
	require.NoError(t, db.UpsertMedia(5, "unhashed", nil))

	matches, err := db.FindSimilar(base, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1, "an exact match short-circuits the scan")
	assert.Equal(t, int64(1), matches[0].ID)
	assert.Equal(t, 0, matches[0].Distance)

	matches, err = db.FindSimilar(dist(1), 4)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, int64(1), matches[0].ID)
	assert.Equal(t, 1, matches[0].Distance)
	assert.Equal(t, int64(2), matches[1].ID)
	assert.Equal(t, 2, matches[1].Distance)

	matches, err = db.FindSimilar(dist(1), 0)
	require.NoError(t, err)
	assert.Empty(t, matches, "zero tolerance admits exact matches only")

	matches, err = db.FindSimilar(dist(1), 64)
	require.NoError(t, err)
	assert.Len(t, matches, 4, "rows without a fingerprint never match")
}

func TestSetMediaHash(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.UpsertMedia(1, "a.png", nil))
	require.NoError(t, db.UpsertMedia(2, "b.png", nil))
	three := int64(3)
	require.NoError(t, db.UpsertMedia(3, "c.png", &three))

	recs, err := db.HashlessMedia(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0].ID)

	require.NoError(t, db.SetMediaHash(1, -42))
	rec, err := db.GetMedia(1)
	require.NoError(t, err)
	require.NotNil(t, rec.Fingerprint)
	assert.Equal(t, int64(-42), *rec.Fingerprint)

	recs, err = db.HashlessMedia(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(2), recs[0].ID)

	assert.ErrorIs(t, db.SetMediaHash(99, 0), storage.ErrNotFound)
}
