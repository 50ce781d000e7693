package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// organizeFiles rearranges the install tree according to the part's
// organize mapping. Keys are glob patterns relative to the install
// directory; a value ending in "/" moves matches into that directory.
func organizeFiles(installDir string, mapping map[string]string) error {
	if len(mapping) == 0 {
		return nil
	}

	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, pattern := range keys {
		matches, err := filepath.Glob(filepath.Join(installDir, pattern))
		if err != nil {
			return fmt.Errorf("invalid organize pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("no files match organize pattern %q", pattern)
		}

		dst := mapping[pattern]
		intoDir := strings.HasSuffix(dst, "/") || len(matches) > 1

		for _, match := range matches {
			target := filepath.Join(installDir, dst)
			if intoDir {
				target = filepath.Join(installDir, dst, filepath.Base(match))
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if _, err := os.Lstat(target); err == nil {
				return fmt.Errorf("organize target %q already exists", dst)
			}
			if err := os.Rename(match, target); err != nil {
				return fmt.Errorf("failed to organize %q: %w", pattern, err)
			}
		}
	}
	return nil
}
