package app

import (
	"errors"
	"fmt"

	"github.com/partforge/partforge/internal/lifecycle"
)

// Command selects what a partforge invocation does.
const (
	CommandRun   = "run"
	CommandPlan  = "plan"
	CommandClean = "clean"
	CommandState = "state"
)

// Config holds everything an App instance needs to run.
type Config struct {
	// ProjectPath is a .hcl file or a directory of .hcl files.
	ProjectPath string
	// WorkDir roots the parts, stage, prime and overlay areas.
	WorkDir string

	Command   string
	Step      string
	PartNames []string

	LogFormat string
	LogLevel  string
	// Parallel overrides the project's build parallelism when positive.
	Parallel int
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ProjectPath == "" {
		return nil, errors.New("a project path is required")
	}
	if cfg.WorkDir == "" {
		return nil, errors.New("a work directory is required")
	}

	switch cfg.Command {
	case CommandRun, CommandPlan, CommandClean, CommandState:
	default:
		return nil, fmt.Errorf("unknown command %q", cfg.Command)
	}

	if cfg.Step == "" {
		if cfg.Command == CommandClean {
			cfg.Step = lifecycle.Pull.String()
		} else {
			cfg.Step = lifecycle.Prime.String()
		}
	}
	if _, err := lifecycle.ParseStep(cfg.Step); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// TargetStep returns the validated lifecycle step the command applies to.
func (c *Config) TargetStep() lifecycle.Step {
	step, err := lifecycle.ParseStep(c.Step)
	if err != nil {
		// NewConfig already validated the name.
		panic(err)
	}
	return step
}
