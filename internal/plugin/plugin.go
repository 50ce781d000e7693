// Package plugin defines the build plugin contract and the built-in
// plugins. A plugin turns a part's declared properties into the shell
// commands and environment that build it.
package plugin

import (
	"fmt"
)

// Context carries the per-part paths and settings a plugin needs to
// assemble its commands.
type Context struct {
	PartName   string
	SrcDir     string
	BuildDir   string
	InstallDir string
	StageDir   string
	Properties map[string]any
	Parallel   int
}

// Plugin produces the build procedure for one part.
type Plugin interface {
	// Name returns the plugin's registered name.
	Name() string

	// ValidateProperties rejects part properties the plugin does not
	// understand or cannot apply.
	ValidateProperties(props map[string]any) error

	// BuildCommands returns the shell commands that build the part, run
	// in order inside the part's build directory.
	BuildCommands(c *Context) []string

	// BuildEnvironment returns extra environment variables for the build
	// commands.
	BuildEnvironment(c *Context) map[string]string
}

// PropertyError reports an invalid or unknown part property.
type PropertyError struct {
	Plugin string
	Key    string
	Reason string
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("invalid property %q for plugin %q: %s", e.Key, e.Plugin, e.Reason)
}

// stringList coerces a property value into a string slice. Single
// strings are accepted as one-element lists.
func stringList(v any) ([]string, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case string:
		return []string{val}, true
	case []string:
		return val, true
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// checkKnownKeys rejects any property key outside the allowed set.
func checkKnownKeys(pluginName string, props map[string]any, allowed ...string) error {
	known := map[string]struct{}{}
	for _, k := range allowed {
		known[k] = struct{}{}
	}
	for k := range props {
		if _, ok := known[k]; !ok {
			return &PropertyError{Plugin: pluginName, Key: k, Reason: "unknown property"}
		}
	}
	return nil
}
