// Package specfile loads project definitions from HCL files. A project
// is a set of part blocks plus an optional project block carrying
// project-wide settings; definitions may be split across any number of
// files under the project directory.
package specfile

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/partforge/partforge/internal/ctxlog"
	"github.com/partforge/partforge/internal/parts"
	"github.com/partforge/partforge/internal/sources"
)

// Project is the loaded and validated project definition.
type Project struct {
	Parts    []*parts.Part
	Options  map[string]any
	Overlays bool
	Parallel int
}

// partNamePattern constrains part names to lowercase letters, digits and
// inner dashes.
var partNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type hclFile struct {
	Project *hclProject `hcl:"project,block"`
	Parts   []*hclPart  `hcl:"part,block"`
}

type hclProject struct {
	Overlays *bool      `hcl:"overlays"`
	Parallel *int       `hcl:"parallel"`
	Options  *cty.Value `hcl:"options"`
}

type hclPart struct {
	Name           string            `hcl:"name,label"`
	Plugin         *string           `hcl:"plugin"`
	After          []string          `hcl:"after,optional"`
	Source         *hclSource        `hcl:"source,block"`
	OverridePull   *string           `hcl:"override_pull"`
	OverrideBuild  *string           `hcl:"override_build"`
	OverrideStage  *string           `hcl:"override_stage"`
	OverridePrime  *string           `hcl:"override_prime"`
	Organize       map[string]string `hcl:"organize,optional"`
	Stage          []string          `hcl:"stage,optional"`
	Prime          []string          `hcl:"prime,optional"`
	OverlayScript  *string           `hcl:"overlay_script"`
	Overlay        []string          `hcl:"overlay,optional"`
	AllowOverwrite *bool             `hcl:"allow_overwrite"`

	// Remaining attributes are plugin properties.
	Remain hcl.Body `hcl:",remain"`
}

type hclSource struct {
	Type     *string `hcl:"type"`
	Location string  `hcl:"location"`
	Branch   *string `hcl:"branch"`
	Tag      *string `hcl:"tag"`
	Commit   *string `hcl:"commit"`
}

// Load parses a single project file.
func Load(ctx context.Context, path string) (*Project, error) {
	return load(ctx, []string{path})
}

// LoadDir discovers and parses every .hcl file under dir.
func LoadDir(ctx context.Context, dir string) (*Project, error) {
	logger := ctxlog.FromContext(ctx)

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".hcl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find project files in %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl project files found in %s", dir)
	}

	logger.Debug("Loading project definition", "dir", dir, "files", len(files))
	return load(ctx, files)
}

func load(ctx context.Context, paths []string) (*Project, error) {
	parser := hclparse.NewParser()

	project := &Project{Options: map[string]any{}}
	haveProjectBlock := false

	for _, path := range paths {
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse %s: %w", path, diags)
		}

		var parsed hclFile
		if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode %s: %w", path, diags)
		}

		if parsed.Project != nil {
			if haveProjectBlock {
				return nil, fmt.Errorf("duplicate project block in %s", path)
			}
			haveProjectBlock = true
			if err := applyProject(project, parsed.Project); err != nil {
				return nil, fmt.Errorf("invalid project block in %s: %w", path, err)
			}
		}

		for _, hp := range parsed.Parts {
			part, err := newPart(hp)
			if err != nil {
				return nil, fmt.Errorf("invalid part %q in %s: %w", hp.Name, path, err)
			}
			project.Parts = append(project.Parts, part)
		}
	}

	if len(project.Parts) == 0 {
		return nil, fmt.Errorf("project defines no parts")
	}
	return project, nil
}

func applyProject(project *Project, block *hclProject) error {
	if block.Overlays != nil {
		project.Overlays = *block.Overlays
	}
	if block.Parallel != nil {
		if *block.Parallel < 0 {
			return fmt.Errorf("parallel must not be negative")
		}
		project.Parallel = *block.Parallel
	}
	if block.Options != nil {
		native, err := ctyToNative(*block.Options)
		if err != nil {
			return fmt.Errorf("invalid options: %w", err)
		}
		options, ok := native.(map[string]any)
		if !ok {
			return fmt.Errorf("options must be an object")
		}
		project.Options = options
	}
	return nil
}

func newPart(hp *hclPart) (*parts.Part, error) {
	if !partNamePattern.MatchString(hp.Name) {
		return nil, fmt.Errorf("part names use lowercase letters, digits and dashes")
	}

	part := &parts.Part{
		Name:       hp.Name,
		After:      hp.After,
		Organize:   hp.Organize,
		StageFiles: hp.Stage,
		PrimeFiles: hp.Prime,
		Properties: map[string]any{},
	}
	if hp.Plugin != nil {
		part.PluginName = *hp.Plugin
	}
	if hp.OverridePull != nil {
		part.OverridePull = *hp.OverridePull
	}
	if hp.OverrideBuild != nil {
		part.OverrideBuild = *hp.OverrideBuild
	}
	if hp.OverrideStage != nil {
		part.OverrideStage = *hp.OverrideStage
	}
	if hp.OverridePrime != nil {
		part.OverridePrime = *hp.OverridePrime
	}
	if hp.OverlayScript != nil {
		part.OverlayScript = *hp.OverlayScript
	}
	part.OverlayFiles = hp.Overlay
	if hp.AllowOverwrite != nil {
		part.AllowOverwrite = *hp.AllowOverwrite
	}

	if hp.Source != nil {
		part.Source = sources.Spec{Location: hp.Source.Location}
		if hp.Source.Type != nil {
			part.Source.Type = *hp.Source.Type
		}
		if hp.Source.Branch != nil {
			part.Source.Branch = *hp.Source.Branch
		}
		if hp.Source.Tag != nil {
			part.Source.Tag = *hp.Source.Tag
		}
		if hp.Source.Commit != nil {
			part.Source.Commit = *hp.Source.Commit
		}
		if _, err := sources.NewHandler(part.Source); err != nil {
			return nil, err
		}
	}

	attrs, err := remainingAttributes(hp.Remain)
	if err != nil {
		return nil, err
	}
	for name, attr := range attrs {
		value, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("invalid property %q: %w", name, diags)
		}
		native, err := ctyToNative(value)
		if err != nil {
			return nil, fmt.Errorf("invalid property %q: %w", name, err)
		}
		part.Properties[name] = native
	}

	return part, nil
}

// partSchemaAttrs are the attribute names the part schema itself claims.
// Anything else on a part body is a plugin property.
var partSchemaAttrs = map[string]bool{
	"plugin":          true,
	"after":           true,
	"override_pull":   true,
	"override_build":  true,
	"override_stage":  true,
	"override_prime":  true,
	"organize":        true,
	"stage":           true,
	"prime":           true,
	"overlay_script":  true,
	"overlay":         true,
	"allow_overwrite": true,
}

// remainingAttributes lists the attributes left over after schema
// decoding. The remain body still carries the claimed source block, so
// JustAttributes would reject it; the syntax body exposes its attributes
// directly and the schema names are filtered out.
func remainingAttributes(body hcl.Body) (hcl.Attributes, error) {
	if body == nil {
		return nil, nil
	}
	syn, ok := body.(*hclsyntax.Body)
	if !ok {
		attrs, diags := body.JustAttributes()
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to read plugin properties: %w", diags)
		}
		return attrs, nil
	}

	attrs := make(hcl.Attributes)
	for name, attr := range syn.Attributes {
		if partSchemaAttrs[name] {
			continue
		}
		attrs[name] = attr.AsHCLAttribute()
	}
	return attrs, nil
}
