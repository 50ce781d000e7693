package sources

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/partforge/partforge/internal/ctxlog"
)

// gitSource clones or refreshes a git repository. The snapshot identity is
// the checked-out commit hash, so the pull fingerprint changes exactly
// when the revision does.
type gitSource struct {
	spec Spec
}

func (s *gitSource) Pull(ctx context.Context, dst string) (*Snapshot, error) {
	logger := ctxlog.FromContext(ctx)

	if _, err := os.Stat(dst + "/.git"); err == nil {
		logger.Debug("refreshing git source", "dir", dst)
		if err := s.update(ctx, dst); err != nil {
			return nil, err
		}
	} else {
		logger.Debug("cloning git source", "url", s.spec.Location, "to", dst)
		if err := s.clone(ctx, dst); err != nil {
			return nil, err
		}
	}

	commit, err := gitOutput(ctx, dst, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return &Snapshot{ID: commit}, nil
}

func (s *gitSource) clone(ctx context.Context, dst string) error {
	args := []string{"clone"}
	if s.spec.Branch != "" {
		args = append(args, "--branch", s.spec.Branch)
	} else if s.spec.Tag != "" {
		args = append(args, "--branch", s.spec.Tag)
	}
	args = append(args, s.spec.Location, dst)

	if err := runGit(ctx, "", args...); err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}
	if s.spec.Commit != "" {
		if err := runGit(ctx, dst, "checkout", s.spec.Commit); err != nil {
			return fmt.Errorf("git checkout %s failed: %w", s.spec.Commit, err)
		}
	}
	return nil
}

func (s *gitSource) update(ctx context.Context, dst string) error {
	// A pinned commit never moves, nothing to refresh.
	if s.spec.Commit != "" {
		return nil
	}
	if err := runGit(ctx, dst, "fetch", "--tags", "origin"); err != nil {
		return fmt.Errorf("git fetch failed: %w", err)
	}

	ref := "origin/HEAD"
	if s.spec.Branch != "" {
		ref = "origin/" + s.spec.Branch
	} else if s.spec.Tag != "" {
		ref = "refs/tags/" + s.spec.Tag
	}
	if err := runGit(ctx, dst, "reset", "--hard", ref); err != nil {
		return fmt.Errorf("git reset failed: %w", err)
	}
	return nil
}

func (s *gitSource) CheckOutdated(time.Time) ([]string, []string, error) {
	return nil, nil, ErrUpdateUnsupported
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
