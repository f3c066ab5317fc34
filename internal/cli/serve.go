package cli

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mark3labs/openapi2mcp/internal/emitter"
	"github.com/mark3labs/openapi2mcp/internal/naming"
	"github.com/mark3labs/openapi2mcp/internal/pipeline"
	"github.com/mark3labs/openapi2mcp/internal/project"
	"github.com/mark3labs/openapi2mcp/internal/spec"
)

// Version is reported to MCP clients.
var Version = "dev"

const serveInstructions = `openapi2mcp MCP server: turns OpenAPI 3.x documents into MCP tool source.

Use plan_tools first to see which tools a document yields and their input contracts, then generate to write the project.`

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run openapi2mcp as an MCP server over stdio",
		Long:  "Run openapi2mcp as an MCP server over stdio, exposing plan_tools and generate as tools.",
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				return err
			}
			log := newLogger(verbose)
			defer func() { _ = log.Sync() }()

			server := newServer(log)
			log.Debug("serving over stdio")
			return server.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}

func newServer(log *zap.Logger) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "openapi2mcp", Version: Version},
		&mcp.ServerOptions{Instructions: serveInstructions},
	)
	s := &service{log: log}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "plan_tools",
		Description: "List the MCP tools an OpenAPI 3.x document yields: names, source operations, descriptions and JSON Schema input contracts, plus operations skipped for long names and the files generation would write. Nothing is written.",
	}, s.handlePlan)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate",
		Description: "Generate MCP tool source (TypeScript with zod, Go) from an OpenAPI 3.x document and write it to output_dir. Refuses a non-empty output_dir unless force is set. Returns the written files.",
	}, s.handleGenerate)

	return server
}

type service struct {
	log *zap.Logger
}

// documentInput is the document a tool works on. Exactly one field is set.
type documentInput struct {
	File    string `json:"file,omitempty"    jsonschema:"Path to an OpenAPI document on disk"`
	URL     string `json:"url,omitempty"     jsonschema:"http(s) URL to fetch the OpenAPI document from"`
	Content string `json:"content,omitempty" jsonschema:"Inline OpenAPI document (JSON or YAML)"`
}

func (d documentInput) read(ctx context.Context) ([]byte, error) {
	count := 0
	for _, s := range []string{d.File, d.URL, d.Content} {
		if s != "" {
			count++
		}
	}
	if count != 1 {
		return nil, fmt.Errorf("exactly one of file, url, or content must be provided (got %d)", count)
	}
	if d.Content != "" {
		return []byte(d.Content), nil
	}
	input := d.File
	if input == "" {
		input = d.URL
	}
	src, err := spec.ReadSource(ctx, input)
	if err != nil {
		return nil, err
	}
	return src.Data, nil
}

type selectionInput struct {
	Targets           []string `json:"targets,omitempty"              jsonschema:"Targets to emit (ts, go); both when empty"`
	IncludeMethods    []string `json:"include_methods,omitempty"      jsonschema:"Only include operations with these HTTP methods"`
	IncludeTools      string   `json:"include_tools,omitempty"        jsonschema:"Only include operations whose operationId (or path) matches this regex"`
	IncludeTags       []string `json:"include_tags,omitempty"         jsonschema:"Only include operations with one of these tags"`
	ExcludeTags       []string `json:"exclude_tags,omitempty"         jsonschema:"Exclude operations with any of these tags"`
	MaxToolNameLength int      `json:"max_tool_name_length,omitempty" jsonschema:"Maximum tool name length (default 64)"`
	NamePolicy        string   `json:"name_policy,omitempty"          jsonschema:"What to do with names over the limit: error, skip or truncate"`
}

func (s *service) run(ctx context.Context, doc documentInput, sel selectionInput, p emitter.Project) (*pipeline.Result, error) {
	data, err := doc.read(ctx)
	if err != nil {
		return nil, err
	}
	policy, err := naming.ParsePolicy(sel.NamePolicy)
	if err != nil {
		return nil, err
	}
	return pipeline.Run(ctx, data, pipeline.Config{
		Targets:           sel.Targets,
		Methods:           sel.IncludeMethods,
		ToolPattern:       sel.IncludeTools,
		IncludeTags:       sel.IncludeTags,
		ExcludeTags:       sel.ExcludeTags,
		MaxToolNameLength: sel.MaxToolNameLength,
		NamePolicy:        policy,
		Project:           p,
		Logger:            s.log,
	})
}

type planInput struct {
	Spec documentInput `json:"spec" jsonschema:"The OpenAPI document to plan tools for"`
	selectionInput
}

type plannedTool struct {
	Name        string `json:"name"`
	Operation   string `json:"operation"`
	Description string `json:"description"`
	InputSchema string `json:"input_schema"`
}

type fileInfo struct {
	Path string `json:"path"`
	Size int    `json:"size"`
}

type planOutput struct {
	Title    string        `json:"title"`
	Version  string        `json:"version"`
	Project  string        `json:"project"`
	Auth     string        `json:"auth,omitempty"`
	Tools    []plannedTool `json:"tools"`
	Skipped  []string      `json:"skipped,omitempty"`
	Findings []string      `json:"findings,omitempty"`
	Files    []fileInfo    `json:"files"`
}

func (s *service) handlePlan(ctx context.Context, _ *mcp.CallToolRequest, in planInput) (*mcp.CallToolResult, planOutput, error) {
	res, err := s.run(ctx, in.Spec, in.selectionInput, emitter.Project{})
	if err != nil {
		return errResult(err), planOutput{}, nil
	}

	out := planOutput{
		Title:   res.Info.Title,
		Version: res.Info.Version,
		Project: res.Project.Name,
		Tools:   make([]plannedTool, 0, len(res.Tools)),
		Files:   files(res.Artifacts),
	}
	if res.Security.Enabled() {
		out.Auth = string(res.Security.Kind)
	}
	for _, t := range res.Tools {
		pt := plannedTool{Name: t.Name, Operation: t.Operation.Key(), Description: t.Description}
		if c, ok := res.Contracts[t.Name]; ok {
			pt.InputSchema = string(c.JSON)
		}
		out.Tools = append(out.Tools, pt)
	}
	for _, sk := range res.Skipped {
		out.Skipped = append(out.Skipped, sk.Operation.Key())
	}
	for _, f := range res.Findings {
		out.Findings = append(out.Findings, f.Message)
	}
	return nil, out, nil
}

type generateInput struct {
	Spec      documentInput `json:"spec"                jsonschema:"The OpenAPI document to generate tools from"`
	OutputDir string        `json:"output_dir"          jsonschema:"Directory to write the generated project to"`
	Name      string        `json:"name,omitempty"      jsonschema:"Project name (derived from the document title when empty)"`
	GoModule  string        `json:"go_module,omitempty" jsonschema:"Go module path of the generated project"`
	Force     bool          `json:"force,omitempty"     jsonschema:"Write into a non-empty output directory"`
	selectionInput
}

type generateOutput struct {
	OutputDir string     `json:"output_dir"`
	Project   string     `json:"project"`
	ToolCount int        `json:"tool_count"`
	Files     []fileInfo `json:"files"`
}

func (s *service) handleGenerate(ctx context.Context, _ *mcp.CallToolRequest, in generateInput) (*mcp.CallToolResult, generateOutput, error) {
	if in.OutputDir == "" {
		return errResult(fmt.Errorf("output_dir is required")), generateOutput{}, nil
	}
	res, err := s.run(ctx, in.Spec, in.selectionInput, emitter.Project{Name: in.Name, GoModule: in.GoModule})
	if err != nil {
		return errResult(err), generateOutput{}, nil
	}
	w, err := project.NewDirWriter(in.OutputDir, in.Force)
	if err != nil {
		return errResult(err), generateOutput{}, nil
	}
	if err := pipeline.Write(w, res.Artifacts); err != nil {
		return errResult(fmt.Errorf("failed to write generated files: %w", err)), generateOutput{}, nil
	}
	s.log.Info("wrote project", zap.String("out", w.Root()), zap.Int("files", len(res.Artifacts)))

	return nil, generateOutput{
		OutputDir: w.Root(),
		Project:   res.Project.Name,
		ToolCount: len(res.Tools),
		Files:     files(res.Artifacts),
	}, nil
}

func files(arts []emitter.Artifact) []fileInfo {
	out := make([]fileInfo, 0, len(arts))
	for _, a := range arts {
		out = append(out, fileInfo{Path: a.Path, Size: len(a.Content)})
	}
	return out
}

func errResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}
