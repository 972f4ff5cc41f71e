package datasets

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// DataURL is the canonical location of the raw fluorescence dataset archive.
const DataURL = "http://s3.amazonaws.com/proteindata/data_pytorch/fluorescence.tar.gz"

// Download fetches the dataset archive and unpacks it under destDir,
// producing the fluorescence/ split files New expects. Already-extracted
// files are overwritten.
func Download(ctx context.Context, destDir string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, DataURL, nil)
	if err != nil {
		return fmt.Errorf("building dataset request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching dataset archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching dataset archive: unexpected status %s", resp.Status)
	}
	return ExtractArchive(resp.Body, destDir)
}

// ExtractArchive unpacks a gzipped tar stream under destDir. Entry paths
// are sanitized so the archive cannot write outside destDir.
func ExtractArchive(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		name := filepath.FromSlash(hdr.Name)
		if strings.Contains(name, "..") || filepath.IsAbs(name) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		path := filepath.Join(destDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", path, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("creating %s: %w", path, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("extracting %s: %w", path, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", path, err)
			}
		default:
			// Symlinks and specials are not expected in the dataset archive.
		}
	}
}
