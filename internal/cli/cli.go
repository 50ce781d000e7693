// Package cli parses partforge command-line arguments into an app
// configuration.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/partforge/partforge/internal/app"
)

// ExitError carries a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a validated Config,
// a boolean indicating the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("partforge", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
partforge - a dependency-aware, incremental build orchestrator.

Usage:
  partforge [options] <command> [PART ...]

Commands:
  run     Execute the lifecycle up to the target step (default: prime).
  plan    Show the actions a run would execute, without executing them.
  clean   Undo the target step and later steps (default: everything).
  state   Show the recorded lifecycle state per part and step.

Options:
`)
		flagSet.PrintDefaults()
	}

	projectFlag := flagSet.String("project", ".", "Path to a project .hcl file or directory.")
	workFlag := flagSet.String("work", ".", "Work directory holding the parts, stage and prime areas.")
	stepFlag := flagSet.String("step", "", "Target lifecycle step: pull, overlay, build, stage or prime.")
	parallelFlag := flagSet.Int("parallel", 0, "Build parallelism. 0 uses the project setting or CPU count.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Log level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	if flagSet.NArg() == 0 {
		flagSet.Usage()
		return nil, true, nil
	}
	command := flagSet.Arg(0)
	partNames := flagSet.Args()[1:]

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	config, err := app.NewConfig(app.Config{
		ProjectPath: *projectFlag,
		WorkDir:     *workFlag,
		Command:     command,
		Step:        *stepFlag,
		PartNames:   partNames,
		LogFormat:   logFormat,
		LogLevel:    logLevel,
		Parallel:    *parallelFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	return config, false, nil
}
