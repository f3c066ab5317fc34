// Package emittertest builds tools from inline documents for target tests.
package emittertest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mark3labs/openapi2mcp/internal/emitter"
	"github.com/mark3labs/openapi2mcp/internal/naming"
	"github.com/mark3labs/openapi2mcp/internal/spec"
	"github.com/mark3labs/openapi2mcp/internal/tool"
)

// Build parses doc and returns the resolved graph with one tool per
// operation, named with the default policy.
func Build(t testing.TB, doc string) (*spec.Graph, []*tool.Tool) {
	t.Helper()
	d, err := spec.Parse([]byte(doc), spec.SyntaxAuto)
	require.NoError(t, err)
	r := spec.NewResolver(d)
	ops, err := spec.Extract(d, r)
	require.NoError(t, err)
	alloc, err := naming.Allocate(ops, naming.NewRegistry(), naming.Config{MaxLength: naming.DefaultMaxLength})
	require.NoError(t, err)

	tools := make([]*tool.Tool, 0, len(alloc.Assigned))
	for _, a := range alloc.Assigned {
		tl, err := tool.Build(a.Operation, a.Name)
		require.NoError(t, err)
		tools = append(tools, tl)
	}
	return r.Graph(), tools
}

// Context returns the emit context of one tool, with its path bound and
// contract rendered.
func Context(t testing.TB, g *spec.Graph, tl *tool.Tool) emitter.ToolContext {
	t.Helper()
	out, err := emitter.Generate(t.Context(), emitter.Request{Graph: g, Tools: []*tool.Tool{tl}})
	require.NoError(t, err)
	segs, err := emitter.BindPath(tl.Operation)
	require.NoError(t, err)
	return emitter.ToolContext{
		Graph:    g,
		Tool:     tl,
		Path:     segs,
		Contract: out.Contracts[tl.Name],
		Project:  emitter.Project{Name: "test-api", Version: "1.0.0", GoModule: "example.com/testapi"},
	}
}

// Find returns the artifact at path.
func Find(t testing.TB, arts []emitter.Artifact, path string) string {
	t.Helper()
	for _, a := range arts {
		if a.Path == path {
			return string(a.Content)
		}
	}
	require.Failf(t, "artifact not found", "no artifact %s in %v", path, emitter.Paths(arts))
	return ""
}
