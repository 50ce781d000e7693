package layout

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// A fileset is a list of patterns selecting paths relative to a source
// directory. Plain patterns include entries, patterns prefixed with "-"
// exclude them. An empty fileset is equivalent to ["*"].

// Migratable walks srcdir and returns the relative files and directories
// selected by the fileset patterns. Directories required as parents of
// selected files are always present in the directory set.
func Migratable(srcdir string, patterns []string) (files, dirs []string, err error) {
	includes, excludes := splitPatterns(patterns)

	fileSet := make(map[string]bool)
	dirSet := make(map[string]bool)

	err = filepath.WalkDir(srcdir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == srcdir {
				return filepath.SkipAll
			}
			return err
		}
		rel, err := filepath.Rel(srcdir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if !matchesAny(rel, includes) || matchesAny(rel, excludes) {
			return nil
		}

		if d.IsDir() {
			dirSet[rel] = true
		} else {
			fileSet[rel] = true
		}
		for parent := filepath.Dir(rel); parent != "."; parent = filepath.Dir(parent) {
			dirSet[parent] = true
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for f := range fileSet {
		files = append(files, f)
	}
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Strings(files)
	sort.Strings(dirs)
	return files, dirs, nil
}

// Filter selects the entries of rels matched by the fileset patterns.
func Filter(rels []string, patterns []string) []string {
	includes, excludes := splitPatterns(patterns)

	var out []string
	for _, rel := range rels {
		if matchesAny(rel, includes) && !matchesAny(rel, excludes) {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out
}

func splitPatterns(patterns []string) (includes, excludes []string) {
	for _, p := range patterns {
		if rest, ok := strings.CutPrefix(p, "-"); ok {
			excludes = append(excludes, rest)
		} else {
			includes = append(includes, p)
		}
	}
	if len(includes) == 0 {
		includes = []string{"*"}
	}
	return includes, excludes
}

// matchesAny reports whether rel, or any of its ancestors, matches one of
// the patterns. A pattern naming a directory selects everything below it.
func matchesAny(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern == "*" {
			return true
		}
		for probe := rel; probe != "."; probe = filepath.Dir(probe) {
			if probe == pattern {
				return true
			}
			if ok, _ := filepath.Match(pattern, probe); ok {
				return true
			}
		}
	}
	return false
}
