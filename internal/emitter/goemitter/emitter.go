// Package goemitter is the "go" target: one package per tool registering
// itself on a go-sdk MCP server, plus a shared client package.
package goemitter

import (
	"fmt"
	"go/token"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/tools/imports"

	"github.com/mark3labs/openapi2mcp/internal/emitter"
	"github.com/mark3labs/openapi2mcp/internal/naming"
	"github.com/mark3labs/openapi2mcp/internal/spec"
	"github.com/mark3labs/openapi2mcp/internal/tool"
)

const sdkImport = "github.com/modelcontextprotocol/go-sdk/mcp"

var initialisms = map[string]string{
	"id": "ID", "url": "URL", "uri": "URI", "api": "API", "http": "HTTP",
	"json": "JSON", "uuid": "UUID", "ip": "IP", "html": "HTML", "sql": "SQL",
}

// Package names the generated files import or declare.
var reservedPackages = map[string]bool{
	"main": true, "tools": true, "client": true, "mcp": true, "json": true, "context": true,
}

type Target struct{}

func New() *Target { return &Target{} }

func (*Target) Name() string { return "go" }

// SanitizeIdentifier maps a wire name to an exported Go identifier:
// "dark-mode" -> "DarkMode", "user_id" -> "UserID".
func (*Target) SanitizeIdentifier(name string) string {
	// Casers are stateful; EmitTool runs concurrently.
	title := cases.Title(language.Und, cases.NoLower)
	var b strings.Builder
	for _, part := range strings.Split(naming.FieldKey(name), "_") {
		if part == "" {
			continue
		}
		if up, ok := initialisms[strings.ToLower(part)]; ok {
			b.WriteString(up)
			continue
		}
		b.WriteString(title.String(part))
	}
	id := b.String()
	// Structs with renamed fields carry a MarshalJSON method.
	if (id[0] >= '0' && id[0] <= '9') || id == "MarshalJSON" {
		id = "X" + id
	}
	return id
}

// MapType spells the Go type of n. Objects and component collections are
// named after their component, or "Value" when inline.
func (t *Target) MapType(n *spec.SchemaNode) (string, error) {
	f := newFile(t, nil)
	if err := f.visit(n, "Value"); err != nil {
		return "", err
	}
	return f.typeOf(n), nil
}

// PackageName is the Go package, and directory, of a tool.
func PackageName(toolName string) string {
	if token.IsKeyword(toolName) || reservedPackages[toolName] {
		return toolName + "_tool"
	}
	return toolName
}

func modulePath(p emitter.Project) string {
	if p.GoModule != "" {
		return p.GoModule
	}
	return "example.com/" + emitter.ProjectName(p.Name)
}

// EmitTool writes tools/<pkg>/<pkg>.go.
func (t *Target) EmitTool(ctx emitter.ToolContext) ([]emitter.Artifact, error) {
	tl := ctx.Tool
	pkg := PackageName(tl.Name)
	f := newFile(t, ctx.Graph)

	input := tl.Input
	fields, err := emitter.Fields(t, input)
	if err != nil {
		return nil, err
	}
	f.seen[input.ID()] = true
	f.names[input.ID()], f.taken["Input"] = "Input", true
	f.order = append(f.order, input)
	for _, nf := range fields {
		if err := f.visit(nf.Schema, nf.Ident); err != nil {
			return nil, err
		}
	}

	var b strings.Builder
	b.WriteString(emitter.Header + "\n\n")
	fmt.Fprintf(&b, "// Package %s exposes %s as the MCP tool %q.\n", pkg, tl.Operation.Key(), tl.Name)
	fmt.Fprintf(&b, "package %s\n\n", pkg)
	b.WriteString("import (\n\t\"context\"\n\t\"encoding/json\"\n\n")
	fmt.Fprintf(&b, "\tmcp %q\n\n", sdkImport)
	fmt.Fprintf(&b, "\tclient %q\n)\n\n", modulePath(ctx.Project)+"/tools/client")

	fmt.Fprintf(&b, "const (\n\tName = %s\n\tDescription = %s\n)\n\n", strconv.Quote(tl.Name), strconv.Quote(tl.Description))
	b.WriteString("// InputSchema is the JSON Schema clients see in tools/list.\n")
	fmt.Fprintf(&b, "const InputSchema = %s\n\n", rawString(string(ctx.Contract.JSON)))

	if err := f.declarations(&b); err != nil {
		return nil, err
	}
	b.WriteString(register(tl, ctx.Path, fields))

	path := "tools/" + pkg + "/" + pkg + ".go"
	src, err := format(path, b.String())
	if err != nil {
		return nil, err
	}
	return []emitter.Artifact{{Path: path, Content: src}}, nil
}

func register(tl *tool.Tool, path []emitter.Segment, fields []emitter.NamedField) string {
	idents := make(map[string]string, len(fields))
	for _, nf := range fields {
		idents[nf.Key] = nf.Ident
	}

	var b strings.Builder
	b.WriteString("// Register adds the tool to server. Calls go through caller.\n")
	b.WriteString("func Register(server *mcp.Server, caller client.Caller) {\n")
	b.WriteString("\tserver.AddTool(&mcp.Tool{\n\t\tName: Name,\n\t\tDescription: Description,\n\t\tInputSchema: json.RawMessage(InputSchema),\n")
	b.WriteString("\t}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {\n")
	b.WriteString("\t\tvar in Input\n")
	b.WriteString("\t\tif err := client.Decode(req.Params.Arguments, &in); err != nil {\n\t\t\treturn client.ErrorResult(err), nil\n\t\t}\n")
	fmt.Fprintf(&b, "\t\tr := client.NewRequest(%q, %q)\n", tl.Operation.Method.Upper(), tl.Operation.Path)

	bound := map[string]bool{}
	for _, s := range path {
		if s.Param == "" || bound[s.Param] {
			continue
		}
		bound[s.Param] = true
		fmt.Fprintf(&b, "\t\tr.PathValue(%q, in.%s)\n", s.Param, idents[emitter.PathField(tl, s.Param)])
	}
	for _, bd := range tl.Bindings {
		ident := idents[bd.Field]
		switch bd.Source {
		case tool.FromQuery:
			fmt.Fprintf(&b, "\t\tr.SetQuery(%q, in.%s)\n", bd.Wire, ident)
		case tool.FromHeader:
			fmt.Fprintf(&b, "\t\tr.SetHeader(%q, in.%s)\n", bd.Wire, ident)
		case tool.FromCookie:
			fmt.Fprintf(&b, "\t\tr.SetCookie(%q, in.%s)\n", bd.Wire, ident)
		case tool.FromBodyField:
			fmt.Fprintf(&b, "\t\tr.SetBodyField(%q, in.%s)\n", bd.Wire, ident)
		case tool.FromBody:
			fmt.Fprintf(&b, "\t\tr.SetBody(in.%s)\n", ident)
		}
	}
	b.WriteString("\t\treturn client.Call(ctx, caller, r), nil\n")
	b.WriteString("\t})\n}\n")
	return b.String()
}

// rawString quotes s as a raw string literal when it can be one.
func rawString(s string) string {
	if strings.ContainsAny(s, "`\r") {
		return strconv.Quote(s)
	}
	return "`" + s + "`"
}

func format(path, src string) ([]byte, error) {
	out, err := imports.Process(path, []byte(src), &imports.Options{
		FormatOnly: true,
		Comments:   true,
		TabIndent:  true,
		TabWidth:   8,
	})
	if err != nil {
		return nil, fmt.Errorf("go: format %s: %w", path, err)
	}
	return out, nil
}
