package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"

	"github.com/partforge/partforge/internal/ctxlog"
	"github.com/partforge/partforge/internal/lifecycle"
	"github.com/partforge/partforge/internal/parts"
)

// runScript executes a shell command in dir with the step environment
// merged over the process environment.
func (e *Executor) runScript(ctx context.Context, script, dir string, env map[string]string) error {
	log := ctxlog.FromContext(ctx)
	log.Debug("Running command", "dir", dir, "command", script)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", script)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	merged := os.Environ()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+env[k])
	}
	cmd.Env = merged

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q failed: %w", script, err)
	}
	return nil
}

// stepEnv returns the environment every part script and plugin command
// runs with.
func (e *Executor) stepEnv(part *parts.Part, step lifecycle.Step) map[string]string {
	env := map[string]string{
		"PARTFORGE_PART_NAME":    part.Name,
		"PARTFORGE_PART_SRC":     e.dirs.PartSrcDir(part.Name),
		"PARTFORGE_PART_BUILD":   e.dirs.PartBuildDir(part.Name),
		"PARTFORGE_PART_INSTALL": e.dirs.PartInstallDir(part.Name),
		"PARTFORGE_STAGE":        e.dirs.Stage,
		"PARTFORGE_PRIME":        e.dirs.Prime,
		"PARTFORGE_STEP":         step.String(),
		"PARTFORGE_PARALLEL":     strconv.Itoa(e.parallel),
	}
	if e.overlays {
		env["PARTFORGE_OVERLAY"] = e.dirs.PartLayerDir(part.Name)
		env["PARTFORGE_OVERLAY_VIEW"] = e.dirs.OverlayViewDir()
	}
	return env
}
