package cmd

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	favarch "github.com/codedcells/favarch/internal"
	"github.com/codedcells/favarch/pkg/codec"
)

// importCmd adopts manually saved pages and media into the archive.
var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Adopt saved pages and media files into the archive.",
	Long: `Walks a directory of manually saved content. HTML files are matched to
their submission by the canonical URL in the markup and stored as page
snapshots. Other files named after a submission id (for example
123456.png) are moved into the media store and indexed. Run 'sync'
afterwards to fill whatever the import could not cover.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := args[0]
		var pages, media, skipped int

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			switch ext {
			case ".html", ".htm":
				if importPage(path) {
					pages++
				} else {
					skipped++
				}
			default:
				if importMedia(path) {
					media++
				} else {
					skipped++
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		console.Success("Imported %d pages and %d media files, skipped %d.", pages, media, skipped)
		if skipped > 0 {
			console.Warn("Skipped files are logged with the reason.")
		}
		return nil
	},
}

// importPage stores a saved detail page as a snapshot, keyed by the
// canonical URL embedded in its markup.
func importPage(path string) bool {
	raw, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		logger.Warn().Err(err).Str("file", path).Msg("unreadable page, skipping")
		return false
	}
	id, err := favarch.ExtractCanonicalID(string(raw))
	if err != nil {
		logger.Warn().Err(err).Str("file", path).Msg("page has no canonical id, skipping")
		return false
	}
	if err := database.UpsertPage(id, codec.Compress(raw), time.Now()); err != nil {
		logger.Error().Err(err).Int64("id", id).Msg("failed to store imported page")
		return false
	}
	logger.Info().Int64("id", id).Str("file", path).Msg("page imported")
	return true
}

// importMedia moves a file named after a submission id into the store.
func importMedia(path string) bool {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	id, err := strconv.ParseInt(stem, 10, 64)
	if err != nil || id <= 0 {
		logger.Warn().Str("file", path).Msg("filename is not a submission id, skipping")
		return false
	}
	if _, err := database.GetMedia(id); err == nil {
		logger.Info().Int64("id", id).Msg("media already archived, skipping")
		return false
	}
	result, err := mediaStore.StoreFile(id, path)
	if err != nil {
		logger.Error().Err(err).Int64("id", id).Msg("failed to adopt media file")
		return false
	}
	if err := database.UpsertMedia(id, result.RelPath, result.Fingerprint); err != nil {
		logger.Error().Err(err).Int64("id", id).Msg("failed to index adopted media")
		return false
	}
	logger.Info().Int64("id", id).Str("path", result.RelPath).Msg("media imported")
	return true
}
