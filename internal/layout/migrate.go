package layout

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// migrateFiles copies or links the given relative files and directories
// from srcdir into destdir. Regular files are hard-linked whenever
// possible and copied otherwise. fixup, when non-nil, runs on every
// migrated file. Returns the sets actually migrated.
func migrateFiles(files, dirs []string, srcdir, destdir string, fixup func(string) error) ([]string, []string, error) {
	if err := os.MkdirAll(destdir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create %q: %w", destdir, err)
	}

	var migratedFiles, migratedDirs []string

	sortedDirs := append([]string(nil), dirs...)
	sort.Strings(sortedDirs)
	for _, dirname := range sortedDirs {
		src := filepath.Join(srcdir, dirname)
		dst := filepath.Join(destdir, dirname)

		if err := createSimilarDir(src, dst); err != nil {
			return nil, nil, fmt.Errorf("failed to create directory %q: %w", dirname, err)
		}
		migratedDirs = append(migratedDirs, dirname)
	}

	sortedFiles := append([]string(nil), files...)
	sort.Strings(sortedFiles)
	for _, filename := range sortedFiles {
		src := filepath.Join(srcdir, filename)
		dst := filepath.Join(destdir, filename)

		// Re-linking over an existing destination keeps re-staging
		// idempotent and transfers ownership to the migrating part.
		if _, err := os.Lstat(dst); err == nil {
			if err := os.Remove(dst); err != nil {
				return nil, nil, err
			}
		}

		if err := linkOrCopy(src, dst); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate %q: %w", filename, err)
		}
		if fixup != nil {
			if err := fixup(dst); err != nil {
				return nil, nil, err
			}
		}
		migratedFiles = append(migratedFiles, filename)
	}

	return migratedFiles, migratedDirs, nil
}

func createSimilarDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.MkdirAll(dst, info.Mode().Perm())
}

// linkOrCopy hard-links src to dst, falling back to a content copy when
// linking fails (different filesystem, or src is a symlink).
func linkOrCopy(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}

	if err := os.Link(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
