package artifacts

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// maxArtifactSize bounds a single JSON entry read from a bundle.
const maxArtifactSize = 64 << 20

// LoadBundle loads artifacts from a .tzst (zstd-compressed tar) bundle.
// When checksum is non-empty the bundle's sha256 must match it; both
// "sha256:<hex>" and bare hex forms are accepted.
func LoadBundle(bundlePath, checksum string) (*Registry, error) {
	if checksum != "" {
		if err := verifyChecksum(bundlePath, checksum); err != nil {
			return nil, fmt.Errorf("artifact integrity check failed: %w", err)
		}
	}

	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	r := &Registry{
		artifacts: make(map[string]*Artifact),
		source:    bundlePath,
	}

	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Clean(header.Name)
		if isBuildInfo(name) || !isArtifactFile(name) {
			continue
		}
		if header.Size > maxArtifactSize {
			return nil, fmt.Errorf("bundle entry %s is too large (%d bytes)", name, header.Size)
		}

		data, err := io.ReadAll(io.LimitReader(tr, maxArtifactSize))
		if err != nil {
			return nil, fmt.Errorf("read bundle entry %s: %w", name, err)
		}
		a, ok, err := ParseArtifact(data, strings.TrimSuffix(path.Base(name), ".json"))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := r.add(a, name); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func isBuildInfo(name string) bool {
	return strings.HasPrefix(name, "build-info/") || strings.Contains(name, "/build-info/")
}

// FetchBundle downloads a bundle into cacheDir and loads it.
func FetchBundle(ctx context.Context, url, cacheDir, checksum string) (*Registry, error) {
	if cacheDir == "" {
		cacheDir = os.TempDir()
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	urlHash := fmt.Sprintf("%x", sha256.Sum256([]byte(url)))
	dest := filepath.Join(cacheDir, "artifacts-"+urlHash[:16]+".tzst")
	if err := downloadFile(ctx, url, dest); err != nil {
		return nil, fmt.Errorf("download artifacts: %w", err)
	}
	slog.Debug("downloaded artifact bundle", slog.String("url", url), slog.String("path", dest))

	return LoadBundle(dest, checksum)
}

func downloadFile(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d from %s", resp.StatusCode, url)
	}

	// Write to temp file first, then rename for atomicity
	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	_, err = io.Copy(f, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

func verifyChecksum(filePath, expected string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("calculate checksum: %w", err)
	}

	actual := fmt.Sprintf("%x", h.Sum(nil))
	want := strings.ToLower(strings.TrimPrefix(expected, "sha256:"))
	if actual != want {
		return fmt.Errorf("expected %s, got %s: %w", want, actual, ErrChecksumMismatch)
	}
	return nil
}
