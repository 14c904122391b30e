// Package update implements the self-update of the favarch binary from
// GitHub releases.
package update

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	goupdate "github.com/inconshreveable/go-update"

	"github.com/codedcells/favarch/tools/favarch/internal/cli"
)

const (
	repoName         = "favarch"
	latestReleaseURL = "https://api.github.com/repos/codedcells/favarch/releases/latest"
)

// githubRelease represents the structure of a GitHub release API response.
type githubRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name        string `json:"name"`
		DownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// version represents a parsed version string.
type version struct {
	Major int
	Minor int
}

// parseVersion parses a string like "v1.03" into a version struct.
func parseVersion(vStr string) (version, error) {
	vStr = strings.TrimPrefix(vStr, "v")
	parts := strings.Split(vStr, ".")
	if len(parts) != 2 {
		return version{}, fmt.Errorf("invalid version format: %s", vStr)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return version{}, fmt.Errorf("invalid major version: %w", err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return version{}, fmt.Errorf("invalid minor version: %w", err)
	}
	return version{Major: major, Minor: minor}, nil
}

func (v version) lessThan(other version) bool {
	if v.Major < other.Major {
		return true
	}
	return v.Major == other.Major && v.Minor < other.Minor
}

// getLatestRelease fetches the latest release information from GitHub.
func getLatestRelease() (*githubRelease, error) {
	req, err := http.NewRequest(http.MethodGet, latestReleaseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest release info: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status from GitHub API: %s", resp.Status)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to decode release info: %w", err)
	}
	return &release, nil
}

// CheckForUpdate returns the latest version tag if an update is available,
// otherwise an empty string.
func CheckForUpdate(currentVersion string) (string, error) {
	if currentVersion == "dev" {
		return "", nil
	}
	release, err := getLatestRelease()
	if err != nil {
		return "", err
	}
	current, err := parseVersion(currentVersion)
	if err != nil {
		return "", fmt.Errorf("failed to parse current version: %w", err)
	}
	latest, err := parseVersion(release.TagName)
	if err != nil {
		return "", fmt.Errorf("failed to parse latest version tag: %w", err)
	}
	if current.lessThan(latest) {
		return release.TagName, nil
	}
	return "", nil
}

// getArchName maps Go's runtime.GOARCH to the release archive name format.
func getArchName() string {
	if runtime.GOARCH == "amd64" {
		return "x86_64"
	}
	return runtime.GOARCH
}

// getAssetName constructs the expected asset filename.
func getAssetName() string {
	ext := "tar.gz"
	if runtime.GOOS == "windows" {
		ext = "zip"
	}
	return fmt.Sprintf("%s_%s_%s.%s", repoName, runtime.GOOS, getArchName(), ext)
}

// extractFileFromArchive extracts the binary from the downloaded archive.
func extractFileFromArchive(body io.Reader, filename string) (io.Reader, error) {
	archiveBody, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive body: %w", err)
	}

	binaryName := repoName
	if runtime.GOOS == "windows" {
		binaryName += ".exe"
	}

	var binData []byte
	var binFound bool
	if strings.HasSuffix(filename, ".zip") {
		r, err := zip.NewReader(bytes.NewReader(archiveBody), int64(len(archiveBody)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zip reader: %w", err)
		}
		for _, f := range r.File {
			if f.FileInfo().IsDir() || filepath.Base(f.Name) != binaryName {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open file in zip: %w", err)
			}
			binData, err = io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read executable from zip: %w", err)
			}
			binFound = true
			break
		}
	} else { // .tar.gz
		gzr, err := gzip.NewReader(bytes.NewReader(archiveBody))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer func() { _ = gzr.Close() }()
		tr := tar.NewReader(gzr)
		for {
			header, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("tar reading error: %w", err)
			}
			if header.Typeflag == tar.TypeReg && filepath.Base(header.Name) == binaryName {
				binData, err = io.ReadAll(tr)
				if err != nil {
					return nil, fmt.Errorf("failed to read executable from tarball: %w", err)
				}
				binFound = true
				break
			}
		}
	}

	if !binFound {
		return nil, fmt.Errorf("executable '%s' not found in archive", binaryName)
	}
	return bytes.NewReader(binData), nil
}

// ApplyUpdate performs the self-update to the latest version.
func ApplyUpdate(console *cli.Console, currentVersion string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("could not locate executable path: %w", err)
	}
	if strings.Contains(exe, "go-build") {
		console.Error("Update command cannot be used with `go run`.")
		console.Info("Build or install the binary first, then run the update on the compiled executable.")
		return nil
	}
	if currentVersion == "dev" {
		console.Warn("Cannot update 'dev' version.")
		return nil
	}

	console.Info("Checking for latest version...")
	release, err := getLatestRelease()
	if err != nil {
		return err
	}
	current, err := parseVersion(currentVersion)
	if err != nil {
		return fmt.Errorf("failed to parse current version: %w", err)
	}
	latest, err := parseVersion(release.TagName)
	if err != nil {
		return fmt.Errorf("failed to parse latest version tag: %w", err)
	}
	if !current.lessThan(latest) {
		console.Success("Already running the latest version (%s).", currentVersion)
		return nil
	}

	assetName := getAssetName()
	var downloadURL string
	for _, asset := range release.Assets {
		if asset.Name == assetName {
			downloadURL = asset.DownloadURL
			break
		}
	}
	if downloadURL == "" {
		return fmt.Errorf("no release asset named %s for this platform", assetName)
	}

	console.Info("Downloading %s...", release.TagName)
	resp, err := http.Get(downloadURL) // #nosec G107
	if err != nil {
		return fmt.Errorf("failed to download release asset: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status downloading release asset: %s", resp.Status)
	}

	binary, err := extractFileFromArchive(resp.Body, assetName)
	if err != nil {
		return err
	}
	if err := goupdate.Apply(binary, goupdate.Options{}); err != nil {
		if rerr := goupdate.RollbackError(err); rerr != nil {
			return fmt.Errorf("update failed and rollback failed: %w", rerr)
		}
		return fmt.Errorf("update failed, rolled back: %w", err)
	}
	console.Success("Updated to %s. Restart to use the new version.", release.TagName)
	return nil
}
