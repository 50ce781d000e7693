package plugin

import (
	"fmt"
	"strings"
)

// nilPlugin builds nothing. Parts use it when an override script does
// all the work, or when the part exists only to stage files.
type nilPlugin struct{}

func (p *nilPlugin) Name() string { return "nil" }

func (p *nilPlugin) ValidateProperties(props map[string]any) error {
	return checkKnownKeys(p.Name(), props)
}

func (p *nilPlugin) BuildCommands(*Context) []string { return nil }

func (p *nilPlugin) BuildEnvironment(*Context) map[string]string { return nil }

// dumpPlugin copies the pulled source straight into the install tree.
type dumpPlugin struct{}

func (p *dumpPlugin) Name() string { return "dump" }

func (p *dumpPlugin) ValidateProperties(props map[string]any) error {
	return checkKnownKeys(p.Name(), props)
}

func (p *dumpPlugin) BuildCommands(c *Context) []string {
	return []string{
		fmt.Sprintf(`cp --archive --link --no-dereference . %q`, c.InstallDir),
	}
}

func (p *dumpPlugin) BuildEnvironment(*Context) map[string]string { return nil }

// makePlugin drives a Makefile-based build.
//
// Properties:
//
//	make-parameters: extra arguments passed to every make invocation
type makePlugin struct{}

func (p *makePlugin) Name() string { return "make" }

func (p *makePlugin) ValidateProperties(props map[string]any) error {
	if err := checkKnownKeys(p.Name(), props, "make-parameters"); err != nil {
		return err
	}
	if _, ok := stringList(props["make-parameters"]); !ok {
		return &PropertyError{Plugin: p.Name(), Key: "make-parameters", Reason: "expected a list of strings"}
	}
	return nil
}

func (p *makePlugin) BuildCommands(c *Context) []string {
	params, _ := stringList(c.Properties["make-parameters"])
	extra := ""
	if len(params) > 0 {
		extra = " " + strings.Join(params, " ")
	}
	return []string{
		fmt.Sprintf("make -j%d%s", c.Parallel, extra),
		fmt.Sprintf("make -j%d install DESTDIR=%q%s", c.Parallel, c.InstallDir, extra),
	}
}

func (p *makePlugin) BuildEnvironment(*Context) map[string]string { return nil }

// goPlugin builds Go modules with the standard toolchain and installs
// binaries under bin/ in the install tree.
//
// Properties:
//
//	go-buildtags: build tags passed to go install
//	go-generate:  arguments for go generate runs before the build
type goPlugin struct{}

func (p *goPlugin) Name() string { return "go" }

func (p *goPlugin) ValidateProperties(props map[string]any) error {
	if err := checkKnownKeys(p.Name(), props, "go-buildtags", "go-generate"); err != nil {
		return err
	}
	if _, ok := stringList(props["go-buildtags"]); !ok {
		return &PropertyError{Plugin: p.Name(), Key: "go-buildtags", Reason: "expected a list of strings"}
	}
	if _, ok := stringList(props["go-generate"]); !ok {
		return &PropertyError{Plugin: p.Name(), Key: "go-generate", Reason: "expected a list of strings"}
	}
	return nil
}

func (p *goPlugin) BuildCommands(c *Context) []string {
	tags := ""
	if list, _ := stringList(c.Properties["go-buildtags"]); len(list) > 0 {
		tags = fmt.Sprintf("-tags %s ", strings.Join(list, ","))
	}

	cmds := []string{"go mod download"}
	if gen, _ := stringList(c.Properties["go-generate"]); len(gen) > 0 {
		for _, args := range gen {
			cmds = append(cmds, "go generate "+args)
		}
	}
	cmds = append(cmds, fmt.Sprintf("go install -p %d %s./...", c.Parallel, tags))
	return cmds
}

func (p *goPlugin) BuildEnvironment(c *Context) map[string]string {
	return map[string]string{
		"GOBIN": c.InstallDir + "/bin",
	}
}
