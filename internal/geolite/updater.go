package geolite

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultDownloadURL = "https://download.maxmind.com/app/geoip_download"
	CityEditionID      = "GeoLite2-City"
	DefaultMaxAge      = 7 * 24 * time.Hour

	userAgent       = "despeed-geolite-updater/1.0"
	downloadTimeout = 2 * time.Minute
)

// ErrNoLicenseKey indicates that no MaxMind license key has been configured.
var ErrNoLicenseKey = errors.New("geolite: license key is not configured")

// Updater keeps a GeoLite2 City database file fresh.
type Updater struct {
	licenseKey  string
	destPath    string
	maxAge      time.Duration
	downloadURL string
	client      *http.Client
	now         func() time.Time

	group singleflight.Group
}

func NewUpdater(licenseKey, destPath string) *Updater {
	return &Updater{
		licenseKey:  strings.TrimSpace(licenseKey),
		destPath:    destPath,
		maxAge:      DefaultMaxAge,
		downloadURL: DefaultDownloadURL,
		client:      &http.Client{Timeout: downloadTimeout},
		now:         time.Now,
	}
}

// Ensure downloads the database when the file is missing or older than the max age.
// It returns true when a download was performed.
func (u *Updater) Ensure(ctx context.Context) (bool, error) {
	if info, err := os.Stat(u.destPath); err == nil && u.now().Sub(info.ModTime()) < u.maxAge {
		log.Debug("GeoLite database is fresh", "path", u.destPath, "modified", info.ModTime())
		return false, nil
	}
	return u.Update(ctx)
}

// Update downloads the City edition unconditionally. Concurrent calls share one download.
func (u *Updater) Update(ctx context.Context) (bool, error) {
	if u.licenseKey == "" {
		return false, ErrNoLicenseKey
	}

	_, err, _ := u.group.Do("update", func() (interface{}, error) {
		return nil, u.downloadEdition(ctx, CityEditionID)
	})
	if err != nil {
		return false, err
	}

	log.Info("GeoLite database updated", "path", u.destPath)
	return true, nil
}

func (u *Updater) downloadEdition(ctx context.Context, editionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.buildDownloadURL(editionID), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", editionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("download %s: unexpected status %d: %s", editionID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	gzipReader, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: open gzip: %w", editionID, err)
	}
	defer gzipReader.Close()

	wanted := editionID + ".mmdb"
	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: read tar: %w", editionID, err)
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != wanted {
			continue
		}

		if err := writeToFile(u.destPath, tarReader); err != nil {
			return fmt.Errorf("%s: write file: %w", editionID, err)
		}
		return nil
	}

	return fmt.Errorf("%s: mmdb file not found in archive", editionID)
}

func (u *Updater) buildDownloadURL(editionID string) string {
	query := url.Values{}
	query.Set("edition_id", editionID)
	query.Set("license_key", u.licenseKey)
	query.Set("suffix", "tar.gz")
	return u.downloadURL + "?" + query.Encode()
}

// writeToFile replaces destPath atomically through a temp file in the same directory.
func writeToFile(destPath string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copy data: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), destPath); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}

	return nil
}
