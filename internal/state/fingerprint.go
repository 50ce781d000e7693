package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/partforge/partforge/internal/lifecycle"
	"github.com/partforge/partforge/internal/parts"
)

// PropertiesOfInterest returns the part properties that determine the
// outcome of the given step. Properties outside this set never make the
// step dirty.
func PropertiesOfInterest(p *parts.Part, step lifecycle.Step) map[string]any {
	props := map[string]any{}
	switch step {
	case lifecycle.Pull:
		props["plugin"] = p.PluginName
		props["source"] = p.Source.Identity()
		props["override-pull"] = p.OverridePull
	case lifecycle.Overlay:
		props["overlay-script"] = p.OverlayScript
		props["overlay"] = copyStrings(p.OverlayFiles)
	case lifecycle.Build:
		props["plugin"] = p.PluginName
		props["after"] = copyStrings(p.After)
		props["override-build"] = p.OverrideBuild
		props["organize"] = copyStringMap(p.Organize)
		// Plugin properties keep their declared names so dirty reports
		// point at the exact property that changed.
		for k, v := range p.Properties {
			props[k] = v
		}
	case lifecycle.Stage:
		props["stage"] = copyStrings(p.StageFiles)
		props["override-stage"] = p.OverrideStage
	case lifecycle.Prime:
		props["prime"] = copyStrings(p.PrimeFiles)
		props["override-prime"] = p.OverridePrime
	}
	return props
}

// Fingerprint computes a stable digest over every input that determines
// a step's output. depFingerprints are the fingerprints of the part's
// dependencies at the step's prerequisite level, order-independent.
func Fingerprint(props, options map[string]any, sourceID string, depFingerprints []string) string {
	h := sha256.New()
	writeCanonical(h, props)
	writeCanonical(h, options)
	fmt.Fprintf(h, "source:%s\n", sourceID)

	deps := append([]string(nil), depFingerprints...)
	sort.Strings(deps)
	for _, fp := range deps {
		fmt.Fprintf(h, "dep:%s\n", fp)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeCanonical serializes a value deterministically: map keys sorted,
// every scalar rendered with an explicit type marker.
func writeCanonical(w io.Writer, v any) {
	switch val := v.(type) {
	case nil:
		io.WriteString(w, "~\n")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		io.WriteString(w, "{\n")
		for _, k := range keys {
			fmt.Fprintf(w, "%s=", k)
			writeCanonical(w, val[k])
		}
		io.WriteString(w, "}\n")
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		writeCanonical(w, m)
	case []any:
		io.WriteString(w, "[\n")
		for _, item := range val {
			writeCanonical(w, item)
		}
		io.WriteString(w, "]\n")
	case []string:
		io.WriteString(w, "[\n")
		for _, item := range val {
			writeCanonical(w, item)
		}
		io.WriteString(w, "]\n")
	case string:
		fmt.Fprintf(w, "s:%s\n", val)
	case bool:
		fmt.Fprintf(w, "b:%t\n", val)
	case int:
		fmt.Fprintf(w, "i:%d\n", val)
	case int64:
		fmt.Fprintf(w, "i:%d\n", val)
	case float64:
		fmt.Fprintf(w, "f:%g\n", val)
	default:
		fmt.Fprintf(w, "v:%v\n", val)
	}
}

// diffMaps returns the keys whose values differ between the recorded and
// current maps, including keys present on only one side.
func diffMaps(recorded, current map[string]any) []string {
	seen := map[string]struct{}{}
	var dirty []string
	for k, rv := range recorded {
		seen[k] = struct{}{}
		cv, ok := current[k]
		if !ok || canonicalString(rv) != canonicalString(cv) {
			dirty = append(dirty, k)
		}
	}
	for k := range current {
		if _, ok := seen[k]; !ok {
			dirty = append(dirty, k)
		}
	}
	sort.Strings(dirty)
	return dirty
}

func canonicalString(v any) string {
	var b strings.Builder
	writeCanonical(&b, normalize(v))
	return b.String()
}

// normalize rewrites YAML-decoded shapes so a value round-tripped through
// a state file compares equal to its in-memory original.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case int:
		return int64(val)
	case uint64:
		return int64(val)
	case float64:
		// Whole numbers deserialize as ints, compare them as such.
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return int64(val)
		}
		return val
	default:
		return v
	}
}

// copyStrings always returns a non-nil slice so a value round-tripped
// through serialization compares equal to the in-memory original.
func copyStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
