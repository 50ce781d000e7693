package sources

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/partforge/partforge/internal/ctxlog"
)

// tarSource unpacks a local tar archive (optionally gzip-compressed) into
// the destination directory. The snapshot identity is the archive digest.
type tarSource struct {
	spec Spec
}

func (s *tarSource) Pull(ctx context.Context, dst string) (*Snapshot, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("pulling tar source", "archive", s.spec.Location, "to", dst)

	digest, err := fileDigest(s.spec.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to hash archive: %w", err)
	}

	f, err := os.Open(s.spec.Location)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(s.spec.Location, ".gz") || strings.HasSuffix(s.spec.Location, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	if err := unpackTar(ctx, reader, dst); err != nil {
		return nil, fmt.Errorf("failed to unpack %q: %w", s.spec.Location, err)
	}
	return &Snapshot{ID: digest}, nil
}

func (s *tarSource) CheckOutdated(time.Time) ([]string, []string, error) {
	return nil, nil, ErrUpdateUnsupported
}

func unpackTar(ctx context.Context, r io.Reader, dst string) error {
	tr := tar.NewReader(r)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		name := filepath.Clean(hdr.Name)
		if name == "." || strings.HasPrefix(name, ".."+string(os.PathSeparator)) {
			continue
		}
		target := filepath.Join(dst, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.RemoveAll(target); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
