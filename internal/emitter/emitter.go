// Package emitter turns built tools into source artifacts for a target
// language. Targets live in subpackages; this package holds what they share.
package emitter

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mark3labs/openapi2mcp/internal/contract"
	"github.com/mark3labs/openapi2mcp/internal/naming"
	"github.com/mark3labs/openapi2mcp/internal/security"
	"github.com/mark3labs/openapi2mcp/internal/spec"
	"github.com/mark3labs/openapi2mcp/internal/tool"
)

// Header starts every generated source file.
const Header = "// Code generated by openapi2mcp. DO NOT EDIT."

// Artifact is one generated file, relative to the output root.
type Artifact struct {
	Path    string
	Content []byte
}

// Project carries the names and defaults shared by every artifact of a run.
type Project struct {
	Name        string // kebab-case project name
	Version     string // API version from info.version
	Description string
	BaseURL     string // first declared server, may be empty
	GoModule    string // module path of the generated Go project
}

// ToolContext is what a target sees when emitting one tool.
type ToolContext struct {
	Graph    *spec.Graph
	Tool     *tool.Tool
	Path     []Segment
	Contract *contract.Contract
	Project  Project
}

// ProjectContext is what a target sees when emitting shared files.
type ProjectContext struct {
	Graph    *spec.Graph
	Tools    []*tool.Tool
	Security security.Config
	Project  Project
}

// Target is one output language.
type Target interface {
	Name() string
	// MapType returns the target type expression for a resolved node.
	MapType(n *spec.SchemaNode) (string, error)
	// SanitizeIdentifier turns a wire name into a legal identifier.
	SanitizeIdentifier(name string) string
	EmitTool(ctx ToolContext) ([]Artifact, error)
	EmitProject(ctx ProjectContext) ([]Artifact, error)
}

// Registry resolves target names.
type Registry struct {
	targets map[string]Target
	names   []string
}

func NewRegistry(targets ...Target) *Registry {
	r := &Registry{targets: map[string]Target{}}
	for _, t := range targets {
		if _, ok := r.targets[t.Name()]; !ok {
			r.names = append(r.names, t.Name())
		}
		r.targets[t.Name()] = t
	}
	return r
}

// Lookup returns the target registered under name.
func (r *Registry) Lookup(name string) (Target, error) {
	t, ok := r.targets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, spec.Errorf(spec.UnsupportedTarget, "unsupported target %q (supported: %s)", name, strings.Join(r.Names(), ", "))
	}
	return t, nil
}

// Names lists registered targets in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Segment is one piece of a path template: literal text or a placeholder.
type Segment struct {
	Literal string
	Param   string
}

// BindPath splits op's path template and checks that placeholders and
// declared path parameters match one to one.
func BindPath(op *spec.Operation) ([]Segment, error) {
	fail := func(format string, args ...any) error {
		return spec.Errorf(spec.PathParameterMismatch, format, args...).For(op.Key()).At(op.Pointer)
	}

	var (
		segs []Segment
		used = map[string]bool{}
		rest = op.Path
	)
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return nil, fail("path %q has an unmatched '}'", op.Path)
			}
			segs = append(segs, Segment{Literal: rest})
			break
		}
		if open > 0 {
			if strings.IndexByte(rest[:open], '}') >= 0 {
				return nil, fail("path %q has an unmatched '}'", op.Path)
			}
			segs = append(segs, Segment{Literal: rest[:open]})
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, fail("path %q has an unclosed '{'", op.Path)
		}
		name := rest[open+1 : open+end]
		if name == "" || strings.ContainsAny(name, "{/") {
			return nil, fail("path %q has an invalid placeholder", op.Path)
		}
		segs = append(segs, Segment{Param: name})
		used[name] = true
		rest = rest[open+end+1:]
	}

	declared := map[string]bool{}
	for _, p := range op.Parameters {
		if p.In != spec.InPath {
			continue
		}
		declared[p.Name] = true
		if !used[p.Name] {
			return nil, fail("path parameter %q does not appear in %q", p.Name, op.Path)
		}
	}
	for _, s := range segs {
		if s.Param != "" && !declared[s.Param] {
			return nil, fail("placeholder {%s} in %q has no path parameter", s.Param, op.Path)
		}
	}
	return segs, nil
}

// PathField returns the input field bound to a path placeholder.
func PathField(t *tool.Tool, param string) string {
	for _, b := range t.Bindings {
		if b.Source == tool.FromPath && b.Wire == param {
			return b.Field
		}
	}
	return naming.FieldKey(param)
}

// NamedField is an object field with its contract key and target identifier.
type NamedField struct {
	spec.Field
	Key   string
	Ident string
}

// Fields names the fields of an object node for target. Two fields that
// end up with the same key or identifier fail with DuplicateField.
func Fields(target Target, n *spec.SchemaNode) ([]NamedField, error) {
	var (
		out    []NamedField
		keys   = map[string]string{}
		idents = map[string]string{}
	)
	for _, f := range n.Fields() {
		nf := NamedField{Field: f, Key: naming.FieldKey(f.Name), Ident: target.SanitizeIdentifier(f.Name)}
		if prev, ok := keys[nf.Key]; ok {
			return nil, spec.Errorf(spec.DuplicateField, "fields %q and %q both become %q", prev, f.Name, nf.Key).At(n.ID())
		}
		if prev, ok := idents[nf.Ident]; ok {
			return nil, spec.Errorf(spec.DuplicateField, "fields %q and %q both become %s identifier %q", prev, f.Name, target.Name(), nf.Ident).At(n.ID())
		}
		keys[nf.Key], idents[nf.Ident] = f.Name, f.Name
		out = append(out, nf)
	}
	return out, nil
}

// Request is one generation run.
type Request struct {
	Graph    *spec.Graph
	Tools    []*tool.Tool
	Targets  []Target
	Security security.Config
	Project  Project
}

// Output is the generation result.
type Output struct {
	Artifacts []Artifact
	Contracts map[string]*contract.Contract // by tool name
}

// Generate emits every tool for every target, then each target's project
// files. Tools are emitted concurrently; artifacts come back in target order,
// then tool order, then project files.
func Generate(ctx context.Context, req Request) (*Output, error) {
	n := len(req.Tools)
	paths := make([][]Segment, n)
	contracts := make([]*contract.Contract, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, t := range req.Tools {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			segs, err := BindPath(t.Operation)
			if err != nil {
				return err
			}
			c, err := contract.Render(req.Graph, t)
			if err != nil {
				return err
			}
			paths[i], contracts[i] = segs, c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Output{Contracts: make(map[string]*contract.Contract, n)}
	for i, t := range req.Tools {
		out.Contracts[t.Name] = contracts[i]
	}

	for _, target := range req.Targets {
		emitted := make([][]Artifact, n)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i, t := range req.Tools {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				arts, err := target.EmitTool(ToolContext{
					Graph:    req.Graph,
					Tool:     t,
					Path:     paths[i],
					Contract: contracts[i],
					Project:  req.Project,
				})
				if err != nil {
					return annotate(err, t)
				}
				emitted[i] = arts
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, arts := range emitted {
			out.Artifacts = append(out.Artifacts, arts...)
		}

		shared, err := target.EmitProject(ProjectContext{
			Graph:    req.Graph,
			Tools:    req.Tools,
			Security: req.Security,
			Project:  req.Project,
		})
		if err != nil {
			return nil, fmt.Errorf("%s project files: %w", target.Name(), err)
		}
		out.Artifacts = append(out.Artifacts, shared...)
	}

	if err := checkPaths(out.Artifacts); err != nil {
		return nil, err
	}
	return out, nil
}

func annotate(err error, t *tool.Tool) error {
	if se, ok := err.(*spec.Error); ok && se.Operation == "" && t.Operation != nil {
		se.Operation = t.Operation.Key()
	}
	return err
}

func checkPaths(arts []Artifact) error {
	seen := make(map[string]bool, len(arts))
	for _, a := range arts {
		if seen[a.Path] {
			return fmt.Errorf("emitter: two artifacts share path %s", a.Path)
		}
		seen[a.Path] = true
	}
	return nil
}

// Paths returns the artifact paths, sorted.
func Paths(arts []Artifact) []string {
	out := make([]string, 0, len(arts))
	for _, a := range arts {
		out = append(out, a.Path)
	}
	sort.Strings(out)
	return out
}

// ProjectName derives a kebab-case project name from an API title.
func ProjectName(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		return "mcp-server"
	}
	return name
}

// CommentLine folds text into a single line safe for // and /* */ comments.
func CommentLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "*/", "* /")
}
