package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/partforge/partforge/internal/ctxlog"
)

// localSource copies a directory tree from the local filesystem. It is the
// only source type that supports update detection: files newer than the
// recorded pull are reported as outdated.
type localSource struct {
	spec Spec
}

func (s *localSource) Pull(ctx context.Context, dst string) (*Snapshot, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("pulling local source", "from", s.spec.Location, "to", dst)

	src, err := filepath.Abs(s.spec.Location)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("local source not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local source %q is not a directory", src)
	}

	if err := CopyTree(ctx, src, dst); err != nil {
		return nil, fmt.Errorf("failed to copy local source: %w", err)
	}

	id, err := treeDigest(src)
	if err != nil {
		return nil, err
	}
	return &Snapshot{ID: id}, nil
}

func (s *localSource) CheckOutdated(since time.Time) ([]string, []string, error) {
	var files, dirs []string
	root, err := filepath.Abs(s.spec.Location)
	if err != nil {
		return nil, nil, err
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().After(since) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, rel)
		} else {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Strings(files)
	sort.Strings(dirs)
	return files, dirs, nil
}

// CopyTree copies src into dst, preserving permissions and symlinks. Files
// already present with identical size and mtime are left alone so repeated
// copies of an unchanged tree are cheap.
func CopyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())

		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.RemoveAll(target); err != nil {
				return err
			}
			return os.Symlink(link, target)

		default:
			if ti, err := os.Stat(target); err == nil &&
				ti.Size() == info.Size() && ti.ModTime().Equal(info.ModTime()) {
				return nil
			}
			return copyFile(path, target, info)
		}
	})
}

func copyFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// treeDigest derives a stable identity from file names, sizes and
// modification times. Recomputing it is cheap and it changes whenever any
// file in the tree changes.
func treeDigest(root string) (string, error) {
	h := sha256.New()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%s|%d|%d|%d\n", rel, info.Mode(), info.Size(), info.ModTime().UnixNano())
		return nil
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
