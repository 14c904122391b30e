// Package client implements the archiving pipeline: crawling favorites
// listings, snapshotting submission pages and downloading media into the
// content-addressed store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	favarch "github.com/codedcells/favarch/internal"
	"github.com/codedcells/favarch/internal/fs"
	"github.com/codedcells/favarch/pkg/codec"
	"github.com/codedcells/favarch/pkg/config"
	"github.com/codedcells/favarch/pkg/fetch"
	"github.com/codedcells/favarch/pkg/imghash"
	"github.com/codedcells/favarch/pkg/storage"
	"github.com/codedcells/favarch/pkg/store"
)

var (
	// ErrNotArchived is returned when an identifier has no archived media.
	ErrNotArchived = errors.New("media not archived")
	// ErrLowDiskSpace is returned when the archive volume is nearly full.
	ErrLowDiskSpace = errors.New("not enough disk space")
)

// minDiskSpace is the free-space floor below which downloads are refused.
const minDiskSpace = 512 * 1024 * 1024

// missingBatchSize bounds a single gap query against the index.
const missingBatchSize = 500

// Client drives the archive pipeline.
type Client struct {
	cfg     *config.Config
	db      storage.Storer
	fetcher *fetch.Fetcher
	store   *store.Store
	logger  zerolog.Logger
}

// New wires a pipeline client from its collaborators.
func New(cfg *config.Config, db storage.Storer, fetcher *fetch.Fetcher, st *store.Store, logger zerolog.Logger) *Client {
	return &Client{cfg: cfg, db: db, fetcher: fetcher, store: st, logger: logger}
}

// Summary tallies the outcome of a crawl or sync run.
type Summary struct {
	NewFavorites int // Identifiers seen for the first time.
	PagesVisited int // Listing pages walked.
	Archived     int // Identifiers whose page and media are now stored.
	Abandoned    int // Identifiers with no download link even on a fresh page.
	Failed       int // Identifiers that errored and were skipped.
}

// Add folds another summary into this one.
func (s *Summary) Add(other Summary) {
	s.NewFavorites += other.NewFavorites
	s.PagesVisited += other.PagesVisited
	s.Archived += other.Archived
	s.Abandoned += other.Abandoned
	s.Failed += other.Failed
}

// CrawlFavorites walks the favorites listing of a user, records every
// favorite relation and submission it sees, and archives the page and media
// of each identifier that was new. Unless FullRescan is set, the walk stops
// at the first listing page that yields no new favorites.
func (c *Client) CrawlFavorites(ctx context.Context, user string) (*Summary, error) {
	summary := &Summary{}
	pagePath := "/favorites/" + url.PathEscape(user) + "/"

	for pagePath != "" {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		listing, err := c.fetchListing(ctx, pagePath)
		if err != nil {
			return summary, fmt.Errorf("crawling favorites of %s: %w", user, err)
		}
		summary.PagesVisited++

		fresh, err := c.db.InsertFavorites(user, listing.IDs())
		if err != nil {
			return summary, err
		}
		summary.NewFavorites += len(fresh)

		freshSet := make(map[int64]bool, len(fresh))
		for _, id := range fresh {
			freshSet[id] = true
		}
		for _, sub := range listing.Submissions {
			if _, err := c.db.UpsertSubmission(sub); err != nil {
				return summary, err
			}
		}
		// A favorite new to this user may already be archived through
		// another user's favorites.
		archived, err := c.db.MediaExists(fresh)
		if err != nil {
			return summary, err
		}
		for _, sub := range listing.Submissions {
			if !freshSet[sub.ID] || archived[sub.ID] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			if err := c.archiveOne(ctx, sub.ID, summary); err != nil {
				return summary, err
			}
		}

		c.logger.Info().
			Str("user", user).
			Str("page", pagePath).
			Int("new", len(fresh)).
			Msg("listing page crawled")

		if len(fresh) == 0 && !c.cfg.FullRescan {
			break
		}
		pagePath = listing.NextPath
	}
	return summary, nil
}

// archiveOne snapshots the page and downloads the media of one identifier,
// folding the outcome into the summary. Failures are isolated per identifier
// unless StrictFailures is set.
func (c *Client) archiveOne(ctx context.Context, id int64, summary *Summary) error {
	markup, err := c.EnsurePage(ctx, id)
	if err == nil {
		err = c.EnsureMedia(ctx, id, markup)
	}
	switch {
	case err == nil:
		summary.Archived++
	case errors.Is(err, favarch.ErrNoDownloadLink):
		summary.Abandoned++
		c.logger.Warn().Int64("id", id).Msg("no download link, abandoning")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		summary.Failed++
		c.logger.Error().Err(err).Int64("id", id).Msg("failed to archive")
		if c.cfg.StrictFailures {
			return err
		}
	}
	return nil
}

func (c *Client) fetchListing(ctx context.Context, pagePath string) (*favarch.Listing, error) {
	resp, err := c.fetcher.Get(ctx, c.cfg.BaseURL+pagePath)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("listing %s returned status %d", pagePath, resp.Status)
	}
	return favarch.ExtractListing(string(resp.Body))
}

// EnsurePage returns the page markup for an identifier, snapshotting it
// first when the archive has no copy yet.
func (c *Client) EnsurePage(ctx context.Context, id int64) (string, error) {
	compressed, err := c.db.GetPage(id)
	if err == nil {
		return codec.DecompressText(compressed)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	return c.snapshotPage(ctx, id)
}

// snapshotPage fetches the live page of an identifier, stores its compressed
// snapshot and returns the markup.
func (c *Client) snapshotPage(ctx context.Context, id int64) (string, error) {
	resp, err := c.fetcher.Get(ctx, c.viewURL(id))
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusOK {
		return "", fmt.Errorf("page %d returned status %d", id, resp.Status)
	}
	if err := c.db.UpsertPage(id, codec.Compress(resp.Body), time.Now()); err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// EnsureMedia downloads and indexes the media of an identifier, given its
// page markup. Already indexed identifiers are skipped. When the markup
// carries no usable download link, or a signed link that has likely expired,
// the live page is fetched once for a fresh link before giving up.
func (c *Client) EnsureMedia(ctx context.Context, id int64, markup string) error {
	if _, err := c.db.GetMedia(id); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	refreshed := false
	refresh := func() (string, error) {
		refreshed = true
		fresh, err := c.snapshotPage(ctx, id)
		if err != nil {
			return "", err
		}
		return favarch.ExtractDownloadURL(fresh)
	}

	downloadURL, err := favarch.ExtractDownloadURL(markup)
	needFresh := false
	switch {
	case errors.Is(err, favarch.ErrNoDownloadLink):
		needFresh = true
	case err != nil:
		return err
	case c.isSignedURL(downloadURL):
		needFresh = true
	}
	if needFresh {
		if downloadURL, err = refresh(); err != nil {
			return err
		}
	}

	err = c.downloadMedia(ctx, id, downloadURL)
	if err == nil || refreshed || ctx.Err() != nil || errors.Is(err, ErrLowDiskSpace) {
		return err
	}
	// The snapshot's link may simply have gone stale. One fresh page,
	// one more attempt.
	c.logger.Warn().Err(err).Int64("id", id).Msg("download failed, refetching page")
	if downloadURL, err = refresh(); err != nil {
		return err
	}
	return c.downloadMedia(ctx, id, downloadURL)
}

// isSignedURL reports whether a download link looks like an expiring signed
// URL. Long links dense with percent escapes carry signatures that outlive
// the snapshot they were captured in.
func (c *Client) isSignedURL(link string) bool {
	return len(link) > c.cfg.SignedURLMinLength &&
		strings.Count(link, "%") > c.cfg.SignedURLMinEscapes
}

// downloadMedia fetches the file behind a download link into the store and
// records it in the media index.
func (c *Client) downloadMedia(ctx context.Context, id int64, downloadURL string) error {
	downloadURL = c.absoluteURL(downloadURL)
	free, err := fs.Available(c.cfg.ArchiveRoot)
	if err == nil && free < minDiskSpace {
		return fmt.Errorf("%d bytes free under %s: %w", free, c.cfg.ArchiveRoot, ErrLowDiskSpace)
	}

	ext := extensionOf(downloadURL)
	tmp, err := os.CreateTemp(c.cfg.ArchiveRoot, ".favarch-dl-*"+ext)
	if err != nil {
		return fmt.Errorf("failed to create download target: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := c.fetcher.Download(ctx, downloadURL, tmpPath); err != nil {
		return err
	}
	// The extension comes from the URL, not the temp name: an extensionless
	// link must yield a bare stem, never the temp suffix.
	downloaded, err := os.Open(tmpPath) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to reopen download: %w", err)
	}
	result, err := c.store.Store(id, downloaded, ext)
	_ = downloaded.Close()
	if err != nil {
		return err
	}
	if err := c.db.UpsertMedia(id, result.RelPath, result.Fingerprint); err != nil {
		return err
	}
	c.logger.Info().Int64("id", id).Str("path", result.RelPath).Msg("media archived")
	return nil
}

// SyncMissing archives every identifier the index knows about but whose page
// snapshot or media file is absent. Failures are isolated per identifier
// unless StrictFailures is set.
func (c *Client) SyncMissing(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	if err := c.syncBatches(ctx, summary, c.db.MissingPages, func(ctx context.Context, id int64) error {
		_, err := c.snapshotPage(ctx, id)
		return err
	}); err != nil {
		return summary, err
	}

	err := c.syncBatches(ctx, summary, c.db.MissingMedia, func(ctx context.Context, id int64) error {
		markup, err := c.EnsurePage(ctx, id)
		if err != nil {
			return err
		}
		return c.EnsureMedia(ctx, id, markup)
	})
	return summary, err
}

// syncBatches walks a gap query in bounded batches and applies fill to every
// identifier. The offset skips identifiers that stayed missing after a
// failed attempt, so one poisoned row cannot stall the walk.
func (c *Client) syncBatches(ctx context.Context, summary *Summary, gaps func(limit, offset int) ([]int64, error), fill func(context.Context, int64) error) error {
	offset := 0
	for {
		ids, err := gaps(missingBatchSize, offset)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		filled := 0
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := fill(ctx, id)
			switch {
			case err == nil:
				summary.Archived++
				filled++
			case errors.Is(err, favarch.ErrNoDownloadLink):
				summary.Abandoned++
				c.logger.Warn().Int64("id", id).Msg("no download link, abandoning")
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				summary.Failed++
				c.logger.Error().Err(err).Int64("id", id).Msg("failed to sync")
				if c.cfg.StrictFailures {
					return err
				}
			}
		}
		offset += len(ids) - filled
	}
}

// RehashMissing computes fingerprints for indexed media rows that lack one,
// typically images imported before hashing existed. It returns how many rows
// were backfilled.
func (c *Client) RehashMissing(ctx context.Context) (int, error) {
	updated := 0
	skipped := 0
	for {
		records, err := c.db.HashlessMedia(missingBatchSize + skipped)
		if err != nil {
			return updated, err
		}
		if len(records) <= skipped {
			return updated, nil
		}
		for _, rec := range records[skipped:] {
			if err := ctx.Err(); err != nil {
				return updated, err
			}
			fingerprint := c.store.Fingerprint(rec.Path)
			if fingerprint == nil {
				skipped++
				continue
			}
			if err := c.db.SetMediaHash(rec.ID, *fingerprint); err != nil {
				return updated, err
			}
			updated++
		}
	}
}

// MediaPath resolves the absolute path of archived media for an identifier.
func (c *Client) MediaPath(id int64) (string, error) {
	rec, err := c.db.GetMedia(id)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("media %d: %w", id, ErrNotArchived)
	}
	if err != nil {
		return "", err
	}
	return c.store.Resolve(rec.Path), nil
}

// SearchFile fingerprints an image file and returns indexed media within
// maxDistance of it, closest first.
func (c *Client) SearchFile(path string, maxDistance int) ([]storage.Match, error) {
	fingerprint, err := imghash.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint %s: %w", path, err)
	}
	return c.db.FindSimilar(fingerprint, maxDistance)
}

// Notify posts a message to the configured webhook. It is a no-op without a
// configured URL.
func (c *Client) Notify(ctx context.Context, message string) error {
	if c.cfg.NotifyURL == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.NotifyURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) viewURL(id int64) string {
	return fmt.Sprintf("%s/view/%d/", c.cfg.BaseURL, id)
}

// absoluteURL resolves a site-relative download href against the base URL.
// Absolute and unparsable links pass through untouched.
func (c *Client) absoluteURL(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.IsAbs() {
		return link
	}
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return link
	}
	return base.ResolveReference(u).String()
}

// extensionOf extracts a lowercase file extension from a download URL,
// ignoring any query string.
func extensionOf(downloadURL string) string {
	u, err := url.Parse(downloadURL)
	if err != nil {
		return strings.ToLower(filepath.Ext(downloadURL))
	}
	return strings.ToLower(path.Ext(u.Path))
}
