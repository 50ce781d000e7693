package parts

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is the validated dependency graph over a project's parts. It is
// built once per run and read-only afterwards.
type Graph struct {
	parts  []*Part
	byName map[string]*Part
	sorted []*Part
}

// CycleError reports a dependency cycle between parts.
type CycleError struct {
	Parts []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected involving parts: %s",
		strings.Join(e.Parts, ", "))
}

// UnknownDependencyError reports an "after" entry naming a part that does
// not exist.
type UnknownDependencyError struct {
	Part       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("part %q depends on unknown part %q", e.Part, e.Dependency)
}

// NewGraph validates dependency references, rejects cycles, and computes a
// deterministic topological order over the given parts.
func NewGraph(list []*Part) (*Graph, error) {
	byName := make(map[string]*Part, len(list))
	for _, p := range list {
		if _, ok := byName[p.Name]; ok {
			return nil, fmt.Errorf("part %q is defined more than once", p.Name)
		}
		byName[p.Name] = p
	}

	for _, p := range list {
		for _, dep := range p.After {
			if dep == p.Name {
				return nil, &CycleError{Parts: []string{p.Name}}
			}
			if _, ok := byName[dep]; !ok {
				return nil, &UnknownDependencyError{Part: p.Name, Dependency: dep}
			}
		}
	}

	g := &Graph{parts: list, byName: byName}
	sorted, err := g.sortParts()
	if err != nil {
		return nil, err
	}
	g.sorted = sorted
	return g, nil
}

// Parts returns the parts in their original declaration order.
func (g *Graph) Parts() []*Part {
	return g.parts
}

// Order returns the parts in dependency order. The order is deterministic:
// ties are broken by part name so identical inputs always plan identical
// action sequences.
func (g *Graph) Order() []*Part {
	return g.sorted
}

// Part returns the named part.
func (g *Graph) Part(name string) (*Part, error) {
	p, ok := g.byName[name]
	if !ok {
		return nil, &UnknownPartError{Name: name}
	}
	return p, nil
}

// Dependencies returns the set of parts the given part depends on. With
// transitive set, the full closure is returned.
func (g *Graph) Dependencies(p *Part, transitive bool) []*Part {
	seen := make(map[string]bool)
	var out []*Part

	var visit func(part *Part)
	visit = func(part *Part) {
		for _, name := range part.After {
			dep := g.byName[name]
			if seen[dep.Name] {
				continue
			}
			seen[dep.Name] = true
			out = append(out, dep)
			if transitive {
				visit(dep)
			}
		}
	}
	visit(p)

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dependents returns the set of parts that depend on the given part. The
// transitive closure is computed with an explicit worklist so deep chains
// never recurse.
func (g *Graph) Dependents(p *Part, transitive bool) []*Part {
	direct := func(name string) []*Part {
		var out []*Part
		for _, other := range g.parts {
			for _, dep := range other.After {
				if dep == name {
					out = append(out, other)
					break
				}
			}
		}
		return out
	}

	seen := make(map[string]bool)
	var out []*Part

	queue := direct(p.Name)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next.Name] {
			continue
		}
		seen[next.Name] = true
		out = append(out, next)
		if transitive {
			queue = append(queue, direct(next.Name)...)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// sortParts produces a stable topological ordering. Parts are repeatedly
// scanned for one no remaining part depends on; that part becomes the tail
// of the order. Scanning a name-sorted list keeps the result deterministic.
func (g *Graph) sortParts() ([]*Part, error) {
	remaining := make([]*Part, len(g.parts))
	copy(remaining, g.parts)
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].Name > remaining[j].Name
	})

	var sorted []*Part
	for len(remaining) > 0 {
		var top *Part
		var topIdx int
		for i, candidate := range remaining {
			mentioned := false
			for _, other := range remaining {
				for _, dep := range other.After {
					if dep == candidate.Name {
						mentioned = true
						break
					}
				}
				if mentioned {
					break
				}
			}
			if !mentioned {
				top = candidate
				topIdx = i
				break
			}
		}
		if top == nil {
			names := make([]string, len(remaining))
			for i, p := range remaining {
				names[i] = p.Name
			}
			sort.Strings(names)
			return nil, &CycleError{Parts: names}
		}

		sorted = append([]*Part{top}, sorted...)
		remaining = append(remaining[:topIdx], remaining[topIdx+1:]...)
	}

	return sorted, nil
}
