package client_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	favarch "github.com/codedcells/favarch/internal"
	"github.com/codedcells/favarch/pkg/client"
	"github.com/codedcells/favarch/pkg/codec"
	"github.com/codedcells/favarch/pkg/config"
	"github.com/codedcells/favarch/pkg/fetch"
	"github.com/codedcells/favarch/pkg/ratelimiter"
	"github.com/codedcells/favarch/pkg/storage"
	"github.com/codedcells/favarch/pkg/storage/sqlite"
	"github.com/codedcells/favarch/pkg/store"
)

func listingHTML(ids []int64, next string) string {
	var b strings.Builder
	b.WriteString("<html><body><section>")
	for _, id := range ids {
		fmt.Fprintf(&b,
			`<figure id="sid-%d" class="r-general t-image">`+
				`<b><u><a href="/view/%d/"><img src="//t.example/%d@300.jpg" data-tags="scenery tag%d"/></a></u></b>`+
				`<figcaption><p><a href="/view/%d/" title="Work %d">Work %d</a></p>`+
				`<p><i>by</i> <a href="/user/author%d/">Author %d</a></p></figcaption></figure>`,
			id, id, id, id, id, id, id, id, id)
	}
	b.WriteString("</section>")
	if next != "" {
		fmt.Fprintf(&b, `<form method="get" action="%s"><button class="button standard" type="submit">Next</button></form>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func viewHTML(id int64, downloadHref string) string {
	link := ""
	if downloadHref != "" {
		link = fmt.Sprintf(`<a href="%s">Download</a>`, downloadHref)
	}
	return fmt.Sprintf(
		`<html><head><meta property="og:url" content="https://x.example/view/%d/"></head><body>`+
			`<div class="aligncenter auto_link hideonfull1 favorite-nav">%s</div></body></html>`,
		id, link)
}

func favSubmission(id int64) favarch.Submission {
	return favarch.Submission{
		ID:    id,
		Title: fmt.Sprintf("Work %d", id),
		User:  fmt.Sprintf("author%d", id),
	}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	client *client.Client
	db     *sqlite.DB
	cfg    *config.Config
	store  *store.Store
}

func newFixture(t *testing.T, baseURL string) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.New(
		filepath.Join(dir, "faves.db"),
		filepath.Join(dir, "pages.db"),
		filepath.Join(dir, "media.db"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.ArchiveRoot = filepath.Join(dir, "archive")
	cfg.RateInterval = time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	cfg.MaxRetries = 1

	st, err := store.New(cfg.ArchiveRoot)
	require.NoError(t, err)

	fetcher := fetch.New(ratelimiter.New(cfg.RateInterval), fetch.Options{
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.RetryBackoff,
	})
	return &fixture{
		client: client.New(cfg, db, fetcher, st, zerolog.Nop()),
		db:     db,
		cfg:    cfg,
		store:  st,
	}
}

func TestCrawlFavorites(t *testing.T) {
	media := testPNG(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/favorites/watcher/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, listingHTML([]int64{101, 102}, "/favorites/watcher/2/next"))
	})
	mux.HandleFunc("/favorites/watcher/2/next", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, listingHTML([]int64{103}, ""))
	})
	mux.HandleFunc("/view/", func(w http.ResponseWriter, r *http.Request) {
		var id int64
		_, err := fmt.Sscanf(r.URL.Path, "/view/%d/", &id)
		require.NoError(t, err)
		_, _ = io.WriteString(w, viewHTML(id, fmt.Sprintf("/data/%d.png", id)))
	})
	mux.HandleFunc("/data/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(media)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fx := newFixture(t, srv.URL)
	summary, err := fx.client.CrawlFavorites(context.Background(), "watcher")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.NewFavorites)
	assert.Equal(t, 2, summary.PagesVisited)
	assert.Equal(t, 3, summary.Archived)
	assert.Zero(t, summary.Abandoned)
	assert.Zero(t, summary.Failed)

	// Metadata, snapshot and media must all be present for a crawled id.
	blob, err := fx.db.GetPage(101)
	require.NoError(t, err)
	markup, err := codec.DecompressText(blob)
	require.NoError(t, err)
	assert.Contains(t, markup, "favorite-nav")

	rec, err := fx.db.GetMedia(101)
	require.NoError(t, err)
	assert.NotNil(t, rec.Fingerprint, "png media must be fingerprinted")
	data, err := os.ReadFile(fx.store.Resolve(rec.Path))
	require.NoError(t, err)
	assert.Equal(t, media, data)

	// A second crawl finds nothing new and stops at the first page.
	summary, err = fx.client.CrawlFavorites(context.Background(), "watcher")
	require.NoError(t, err)
	assert.Zero(t, summary.NewFavorites)
	assert.Equal(t, 1, summary.PagesVisited)
}

func TestCrawlAbandonsWithoutDownloadLink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/favorites/watcher/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, listingHTML([]int64{7}, ""))
	})
	mux.HandleFunc("/view/7/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, viewHTML(7, ""))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fx := newFixture(t, srv.URL)
	summary, err := fx.client.CrawlFavorites(context.Background(), "watcher")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Abandoned)
	assert.Zero(t, summary.Archived)

	// The page snapshot is still kept even when the media is unreachable.
	_, err = fx.db.GetPage(7)
	require.NoError(t, err)
	_, err = fx.db.GetMedia(7)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSyncMissing(t *testing.T) {
	media := testPNG(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/view/", func(w http.ResponseWriter, r *http.Request) {
		var id int64
		_, err := fmt.Sscanf(r.URL.Path, "/view/%d/", &id)
		require.NoError(t, err)
		if id == 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, viewHTML(id, fmt.Sprintf("/data/%d.png", id)))
	})
	mux.HandleFunc("/data/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(media)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fx := newFixture(t, srv.URL)
	for _, id := range []int64{1, 2, 3} {
		_, err := fx.db.InsertFavorites("watcher", []int64{id})
		require.NoError(t, err)
		_, err = fx.db.UpsertSubmission(favSubmission(id))
		require.NoError(t, err)
	}

	summary, err := fx.client.SyncMissing(context.Background())
	require.NoError(t, err)
	// Both the page pass and the media pass succeed for ids 1 and 3, the
	// deleted id 2 fails in each pass without aborting the run.
	assert.Equal(t, 4, summary.Archived)
	assert.Equal(t, 2, summary.Failed)

	for _, id := range []int64{1, 3} {
		_, err := fx.db.GetMedia(id)
		require.NoError(t, err)
	}
	_, err = fx.db.GetMedia(2)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSyncMissingStrictFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/view/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fx := newFixture(t, srv.URL)
	fx.cfg.StrictFailures = true
	_, err := fx.db.UpsertSubmission(favSubmission(1))
	require.NoError(t, err)

	_, err = fx.client.SyncMissing(context.Background())
	assert.Error(t, err)
}

func TestEnsureMediaRefreshesSignedLink(t *testing.T) {
	media := testPNG(t)
	var viewHits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/view/9/", func(w http.ResponseWriter, r *http.Request) {
		viewHits.Add(1)
		_, _ = io.WriteString(w, viewHTML(9, "/data/9.png"))
	})
	mux.HandleFunc("/data/9.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(media)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fx := newFixture(t, srv.URL)

	// Seed a stale snapshot whose download link looks signed: long and
	// dense with percent escapes. Its target does not exist anymore.
	signed := "/data/expired.png?sig=" + strings.Repeat("%41", 40)
	stale := viewHTML(9, signed)
	require.NoError(t, fx.db.UpsertPage(9, codec.Compress([]byte(stale)), time.Now()))

	markup, err := fx.client.EnsurePage(context.Background(), 9)
	require.NoError(t, err)
	assert.Contains(t, markup, "expired.png", "cached snapshot is served as-is")

	require.NoError(t, fx.client.EnsureMedia(context.Background(), 9, markup))
	assert.Equal(t, int64(1), viewHits.Load(), "a signed link forces one fresh page fetch")

	rec, err := fx.db.GetMedia(9)
	require.NoError(t, err)
	data, err := os.ReadFile(fx.store.Resolve(rec.Path))
	require.NoError(t, err)
	assert.Equal(t, media, data)
}

func TestEnsureMediaWithoutLinkExtensionRecordsBareStem(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/view/555/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, viewHTML(555, "/full/555"))
	})
	mux.HandleFunc("/full/555", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "suffixless payload")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fx := newFixture(t, srv.URL)
	markup, err := fx.client.EnsurePage(context.Background(), 555)
	require.NoError(t, err)
	require.NoError(t, fx.client.EnsureMedia(context.Background(), 555, markup))

	rec, err := fx.db.GetMedia(555)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("00", "00", "00", "000000555"), rec.Path,
		"an extensionless link yields the bare path stem")

	data, err := os.ReadFile(fx.store.Resolve(rec.Path))
	require.NoError(t, err)
	assert.Equal(t, []byte("suffixless payload"), data)
}

func TestMediaPath(t *testing.T) {
	fx := newFixture(t, "http://unused.invalid")

	_, err := fx.client.MediaPath(5)
	assert.ErrorIs(t, err, client.ErrNotArchived)

	res, err := fx.store.Store(5, bytes.NewReader([]byte("x")), ".gif")
	require.NoError(t, err)
	require.NoError(t, fx.db.UpsertMedia(5, res.RelPath, nil))

	p, err := fx.client.MediaPath(5)
	require.NoError(t, err)
	assert.Equal(t, fx.store.Resolve(res.RelPath), p)
}

func TestRehashMissing(t *testing.T) {
	fx := newFixture(t, "http://unused.invalid")

	img, err := fx.store.Store(1, bytes.NewReader(testPNG(t)), ".png")
	require.NoError(t, err)
	require.NoError(t, fx.db.UpsertMedia(1, img.RelPath, nil))

	doc, err := fx.store.Store(2, bytes.NewReader([]byte("not an image")), ".txt")
	require.NoError(t, err)
	require.NoError(t, fx.db.UpsertMedia(2, doc.RelPath, nil))

	updated, err := fx.client.RehashMissing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	rec, err := fx.db.GetMedia(1)
	require.NoError(t, err)
	assert.NotNil(t, rec.Fingerprint)

	rec, err = fx.db.GetMedia(2)
	require.NoError(t, err)
	assert.Nil(t, rec.Fingerprint, "unhashable media stays unhashed")
}

func TestSearchFile(t *testing.T) {
	fx := newFixture(t, "http://unused.invalid")

	res, err := fx.store.Store(3, bytes.NewReader(testPNG(t)), ".png")
	require.NoError(t, err)
	require.NotNil(t, res.Fingerprint)
	require.NoError(t, fx.db.UpsertMedia(3, res.RelPath, res.Fingerprint))

	query := filepath.Join(t.TempDir(), "query.png")
	require.NoError(t, os.WriteFile(query, testPNG(t), 0600))

	matches, err := fx.client.SearchFile(query, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(3), matches[0].ID)
	assert.Zero(t, matches[0].Distance)
}

func TestNotify(t *testing.T) {
	var body atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body.Store(string(b))
	}))
	defer srv.Close()

	fx := newFixture(t, "http://unused.invalid")
	fx.cfg.NotifyURL = srv.URL
	require.NoError(t, fx.client.Notify(context.Background(), "run complete"))
	assert.Contains(t, body.Load().(string), "run complete")

	fx.cfg.NotifyURL = ""
	assert.NoError(t, fx.client.Notify(context.Background(), "ignored"))
}
