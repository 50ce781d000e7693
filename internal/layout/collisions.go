package layout

import (
	"bytes"
	"fmt"
	"os"
)

// ConflictError reports two parts claiming the same staged path with
// differing content.
type ConflictError struct {
	Path      string
	Part      string
	OtherPart string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("parts %q and %q both stage %q with different contents",
		e.Part, e.OtherPart, e.Path)
}

// pathsCollide reports whether the two existing paths cannot coexist as
// the same staged entry.
func pathsCollide(path1, path2 string) (bool, error) {
	info1, err1 := os.Lstat(path1)
	info2, err2 := os.Lstat(path2)
	if err1 != nil || err2 != nil {
		// A missing side cannot collide.
		return false, nil
	}

	link1 := info1.Mode()&os.ModeSymlink != 0
	link2 := info2.Mode()&os.ModeSymlink != 0

	// Two symlinks collide when they point to different places.
	if link1 && link2 {
		t1, err := os.Readlink(path1)
		if err != nil {
			return false, err
		}
		t2, err := os.Readlink(path2)
		if err != nil {
			return false, err
		}
		return t1 != t2, nil
	}
	// A symlink collides with a non-symlink.
	if link1 != link2 {
		return true, nil
	}
	// A directory collides with a non-directory.
	if info1.IsDir() != info2.IsDir() {
		return true, nil
	}
	if info1.IsDir() {
		return false, nil
	}

	return fileContentsDiffer(path1, path2, info1.Size(), info2.Size())
}

func fileContentsDiffer(path1, path2 string, size1, size2 int64) (bool, error) {
	if size1 != size2 {
		return true, nil
	}
	data1, err := os.ReadFile(path1)
	if err != nil {
		return false, err
	}
	data2, err := os.ReadFile(path2)
	if err != nil {
		return false, err
	}
	return !bytes.Equal(data1, data2), nil
}
