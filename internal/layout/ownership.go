package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ownersFile is the name of the ownership journal kept inside each shared
// tree. The journal is a first-class persisted record, not a value
// recomputed from step states, so cleaning stays correct even after a
// crash mid-merge.
const ownersFile = ".partforge-owners.yaml"

// journal records which part last wrote each path in a shared tree.
type journal struct {
	mu   sync.Mutex
	path string
	// Owners maps a relative path to the owning part name.
	Owners map[string]string `yaml:"owners"`
}

func openJournal(sharedDir string) (*journal, error) {
	j := &journal{
		path:   filepath.Join(sharedDir, ownersFile),
		Owners: make(map[string]string),
	}

	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return j, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, j); err != nil {
		// An unreadable journal is self-healed by treating the tree as
		// unowned; subsequent merges rewrite it.
		j.Owners = make(map[string]string)
	}
	if j.Owners == nil {
		j.Owners = make(map[string]string)
	}
	return j, nil
}

// owner returns the part owning the given relative path, if any.
func (j *journal) owner(rel string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	part, ok := j.Owners[rel]
	return part, ok
}

// claim records the part as owner of all given paths and persists the
// journal atomically.
func (j *journal) claim(part string, rels []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, rel := range rels {
		j.Owners[rel] = part
	}
	return j.write()
}

// release removes ownership entries held by part for the given paths.
func (j *journal) release(part string, rels []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, rel := range rels {
		if j.Owners[rel] == part {
			delete(j.Owners, rel)
		}
	}
	return j.write()
}

// write persists the journal with an atomic replace so a reader never
// observes a torn file.
func (j *journal) write() error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to serialize ownership journal: %w", err)
	}

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, j.path)
}
