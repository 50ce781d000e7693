// Package sources implements the source acquisition contract used by the
// pull step. A handler knows how to materialize one kind of source
// location into a part's source directory and how to derive a stable
// identity for what was fetched, which feeds the pull fingerprint.
package sources

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUpdateUnsupported is returned by CheckOutdated for source types that
// cannot detect upstream changes.
var ErrUpdateUnsupported = errors.New("source type does not support update detection")

// Spec describes where and how a part's sources are obtained.
type Spec struct {
	// Type selects the handler: "local", "tar" or "git". An empty type
	// means "local".
	Type string `yaml:"type,omitempty"`
	// Location is a filesystem path or repository URL.
	Location string `yaml:"location"`
	// Branch, Tag and Commit narrow a git source to a specific revision.
	Branch string `yaml:"branch,omitempty"`
	Tag    string `yaml:"tag,omitempty"`
	Commit string `yaml:"commit,omitempty"`
}

// Identity returns the spec fields that identify the source declaration
// itself, used when fingerprinting pull inputs.
func (s Spec) Identity() map[string]any {
	m := map[string]any{
		"type":     s.Type,
		"location": s.Location,
	}
	if s.Branch != "" {
		m["branch"] = s.Branch
	}
	if s.Tag != "" {
		m["tag"] = s.Tag
	}
	if s.Commit != "" {
		m["commit"] = s.Commit
	}
	return m
}

// Snapshot identifies the concrete content a pull produced.
type Snapshot struct {
	// ID is a stable content identity: a git commit hash, an archive
	// digest, or a digest over local file metadata.
	ID string `yaml:"id"`
}

// Handler materializes a source into a destination directory.
type Handler interface {
	// Pull fetches or refreshes the source into dst.
	Pull(ctx context.Context, dst string) (*Snapshot, error)

	// CheckOutdated reports the source files and directories modified
	// since the given time. Returns ErrUpdateUnsupported when the source
	// type cannot tell.
	CheckOutdated(since time.Time) (files, dirs []string, err error)
}

// NewHandler resolves a source spec to a handler.
func NewHandler(spec Spec) (Handler, error) {
	switch spec.Type {
	case "", "local":
		return &localSource{spec: spec}, nil
	case "tar":
		return &tarSource{spec: spec}, nil
	case "git":
		return &gitSource{spec: spec}, nil
	}
	return nil, fmt.Errorf("unknown source type %q", spec.Type)
}
