// Package updater checks a remote manifest for a newer application version
// and, on request, fetches the artifact and hands off to the platform
// installer. The fetch reuses the same transfer primitive as regular
// downloads.
package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tangxiangong/yushi/internal/models"
)

// Manifest is the JSON document served at the update manifest URL.
type Manifest struct {
	Version   string `json:"version"`
	URL       string `json:"url"`
	Notes     string `json:"notes"`
	SHA256    string `json:"sha256"`
	Mandatory bool   `json:"mandatory"`
}

// FetchFunc downloads url to dest, reporting progress. The controller's
// transfer provides it.
type FetchFunc func(ctx context.Context, url, dest string, report func(received, total int64)) error

// Service checks for and installs application updates.
type Service struct {
	client         *http.Client
	currentVersion string
	manifestURL    func() string
	retries        int
	fetch          FetchFunc

	// OnRestart is invoked after the installer launches so the host can
	// exit and let the new version take over.
	OnRestart func()
}

// New builds an update service. manifestURL is read on every check so a
// config change takes effect without reconstruction.
func New(currentVersion string, manifestURL func() string, retries int, fetch FetchFunc) *Service {
	if retries < 0 {
		retries = 0
	}
	return &Service{
		client:         &http.Client{Timeout: 15 * time.Second},
		currentVersion: currentVersion,
		manifestURL:    manifestURL,
		retries:        retries,
		fetch:          fetch,
	}
}

// Check fetches the manifest and compares versions. A check that cannot
// reach the manifest fails with models.ErrNetwork; it is never fatal to the
// caller.
func (s *Service) Check(ctx context.Context) (models.UpdateInfo, error) {
	m, err := s.manifest(ctx)
	if err != nil {
		return models.UpdateInfo{}, err
	}

	info := models.UpdateInfo{
		Available:      compareVersions(m.Version, s.currentVersion) > 0,
		CurrentVersion: s.currentVersion,
		LatestVersion:  m.Version,
		Notes:          m.Notes,
		Mandatory:      m.Mandatory,
	}
	if info.Available {
		info.ArtifactURL = m.URL
	}
	return info, nil
}

func (s *Service) manifest(ctx context.Context) (Manifest, error) {
	url := s.manifestURL()
	if url == "" {
		return Manifest{}, fmt.Errorf("%w: no update manifest URL configured", models.ErrNetwork)
	}

	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Manifest{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		m, err := s.fetchManifest(ctx, url)
		if err == nil {
			return m, nil
		}
		lastErr = err
	}
	return Manifest{}, lastErr
}

func (s *Service) fetchManifest(ctx context.Context, url string) (Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: create manifest request: %v", models.ErrNetwork, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: fetch manifest: %v", models.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Manifest{}, fmt.Errorf("%w: manifest returned status %d", models.ErrNetwork, resp.StatusCode)
	}

	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("%w: decode manifest: %v", models.ErrNetwork, err)
	}
	if m.Version == "" {
		return Manifest{}, fmt.Errorf("%w: manifest has no version", models.ErrNetwork)
	}
	return m, nil
}

// DownloadAndInstall fetches the update artifact to a temporary location,
// verifies its checksum when the manifest carries one, launches the platform
// installer, and signals the host to restart.
func (s *Service) DownloadAndInstall(ctx context.Context) error {
	m, err := s.manifest(ctx)
	if err != nil {
		return err
	}
	if compareVersions(m.Version, s.currentVersion) <= 0 {
		return fmt.Errorf("%w: no newer version available (current %s, manifest %s)",
			models.ErrInstallFailed, s.currentVersion, m.Version)
	}

	dest := filepath.Join(os.TempDir(), "yushi-update-"+m.Version+artifactExt(m.URL))
	log.Infof("Downloading update %s to %s", m.Version, dest)
	if err := s.fetch(ctx, m.URL, dest, nil); err != nil {
		return err
	}

	if m.SHA256 != "" {
		if err := verifyChecksum(dest, m.SHA256); err != nil {
			os.Remove(dest)
			return err
		}
	}

	if err := launchInstaller(dest); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInstallFailed, err)
	}
	log.Infof("Installer launched for version %s", m.Version)
	if s.OnRestart != nil {
		s.OnRestart()
	}
	return nil
}

func artifactExt(url string) string {
	if ext := path.Ext(path.Base(url)); ext != "" {
		return ext
	}
	return ""
}

func verifyChecksum(file, expected string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("%w: open artifact: %v", models.ErrInstallFailed, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("%w: hash artifact: %v", models.ErrInstallFailed, err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, expected) {
		return fmt.Errorf("%w: checksum mismatch: got %s, want %s", models.ErrInstallFailed, got, expected)
	}
	return nil
}

func launchInstaller(artifact string) error {
	switch runtime.GOOS {
	case "windows":
		return exec.Command("cmd", "/C", "start", "", artifact).Start()
	case "darwin":
		return exec.Command("open", artifact).Start()
	default:
		if err := os.Chmod(artifact, 0755); err != nil {
			return err
		}
		return exec.Command(artifact).Start()
	}
}

// compareVersions compares two dotted version strings numerically, ignoring
// a leading "v". It returns -1, 0, or 1.
func compareVersions(a, b string) int {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")

	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
