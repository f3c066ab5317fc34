// Package npmemitter is the "ts" target: one TypeScript module per tool
// using zod for the input shape, plus the shared index and constants.
package npmemitter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/openapi2mcp/internal/emitter"
	"github.com/mark3labs/openapi2mcp/internal/naming"
	"github.com/mark3labs/openapi2mcp/internal/spec"
	"github.com/mark3labs/openapi2mcp/internal/tool"
)

type Target struct{}

func New() *Target { return &Target{} }

func (*Target) Name() string { return "ts" }

// SanitizeIdentifier maps a wire name to a JavaScript identifier.
func (*Target) SanitizeIdentifier(name string) string {
	id := naming.FieldKey(name)
	if id[0] >= '0' && id[0] <= '9' {
		id = "_" + id
	}
	return id
}

// MapType returns the zod expression for n. Component references are
// emitted as their schema constants.
func (t *Target) MapType(n *spec.SchemaNode) (string, error) {
	f := newFile(t, nil)
	return f.expr(n)
}

// EmitTool writes src/tools/<name>.ts.
func (t *Target) EmitTool(ctx emitter.ToolContext) ([]emitter.Artifact, error) {
	f := newFile(t, ctx.Graph)
	fields, err := emitter.Fields(t, ctx.Tool.Input)
	if err != nil {
		return nil, err
	}

	shape := make([]string, 0, len(fields))
	f.depth = 1
	for _, nf := range fields {
		e, err := f.expr(nf.Schema)
		if err != nil {
			return nil, err
		}
		if b, ok := ctx.Tool.Binding(nf.Key); ok && b.Description != "" && nf.Schema.Description() == "" {
			e += ".describe(" + jsString(b.Description) + ")"
		}
		if !nf.Required {
			e += ".optional()"
		}
		shape = append(shape, "  "+propKey(nf.Key)+": "+e+",")
	}

	var b strings.Builder
	b.WriteString(emitter.Header + "\n")
	b.WriteString("import { z } from \"zod\";\n")
	b.WriteString("import type { McpServer } from \"@modelcontextprotocol/sdk/server/mcp.js\";\n")
	b.WriteString("import { callApi } from \"../client.js\";\n\n")
	for _, d := range f.decls {
		if f.lazy[d.id] {
			fmt.Fprintf(&b, "export const %s: z.ZodTypeAny = %s;\n\n", d.name, d.expr)
		} else {
			fmt.Fprintf(&b, "export const %s = %s;\n\n", d.name, d.expr)
		}
	}
	fmt.Fprintf(&b, "export const name = %s;\n", jsString(ctx.Tool.Name))
	fmt.Fprintf(&b, "export const description = %s;\n\n", jsString(ctx.Tool.Description))
	if len(shape) == 0 {
		b.WriteString("export const inputShape = {};\n\n")
	} else {
		b.WriteString("export const inputShape = {\n" + strings.Join(shape, "\n") + "\n};\n\n")
	}
	b.WriteString("export const inputSchema = z.object(inputShape);\n\n")
	b.WriteString(handler(ctx.Tool, ctx.Path, len(fields) > 0))

	return []emitter.Artifact{{
		Path:    "src/tools/" + ctx.Tool.Name + ".ts",
		Content: []byte(b.String()),
	}}, nil
}

func handler(t *tool.Tool, path []emitter.Segment, hasArgs bool) string {
	args := "_args"
	if hasArgs {
		args = "args"
	}
	var (
		query, headers, cookies, bodyFields []string
		body                                = "undefined"
	)
	for _, bd := range t.Bindings {
		entry := jsString(bd.Wire) + ": " + access("args", bd.Field)
		switch bd.Source {
		case tool.FromQuery:
			query = append(query, entry)
		case tool.FromHeader:
			headers = append(headers, entry)
		case tool.FromCookie:
			cookies = append(cookies, entry)
		case tool.FromBodyField:
			bodyFields = append(bodyFields, entry)
		case tool.FromBody:
			body = access("args", bd.Field)
		}
	}
	if len(bodyFields) > 0 {
		body = jsObject(bodyFields)
	}

	var b strings.Builder
	b.WriteString("export function setupTool(server: McpServer): void {\n")
	fmt.Fprintf(&b, "  server.tool(name, description, inputShape, async (%s) => {\n", args)
	b.WriteString("    try {\n")
	b.WriteString("      const result = await callApi({\n")
	fmt.Fprintf(&b, "        method: %s,\n", jsString(t.Operation.Method.Upper()))
	fmt.Fprintf(&b, "        path: %s,\n", pathTemplate(t, path))
	fmt.Fprintf(&b, "        query: %s,\n", jsObject(query))
	fmt.Fprintf(&b, "        headers: %s,\n", jsObject(headers))
	fmt.Fprintf(&b, "        cookies: %s,\n", jsObject(cookies))
	fmt.Fprintf(&b, "        body: %s,\n", body)
	b.WriteString("      });\n")
	b.WriteString("      return { content: [{ type: \"text\", text: JSON.stringify(result, null, 2) }] };\n")
	b.WriteString("    } catch (error) {\n")
	b.WriteString("      const message = error instanceof Error ? error.message : String(error);\n")
	b.WriteString("      return { content: [{ type: \"text\", text: `Error: ${message}` }], isError: true };\n")
	b.WriteString("    }\n")
	b.WriteString("  });\n")
	b.WriteString("}\n")
	return b.String()
}

func pathTemplate(t *tool.Tool, path []emitter.Segment) string {
	var b strings.Builder
	b.WriteByte('`')
	for _, s := range path {
		if s.Param == "" {
			b.WriteString(templateEscaper.Replace(s.Literal))
			continue
		}
		b.WriteString("${encodeURIComponent(String(" + access("args", emitter.PathField(t, s.Param)) + "))}")
	}
	b.WriteByte('`')
	return b.String()
}

var templateEscaper = strings.NewReplacer("\\", "\\\\", "`", "\\`", "${", "\\${")

func jsObject(entries []string) string {
	if len(entries) == 0 {
		return "{}"
	}
	return "{ " + strings.Join(entries, ", ") + " }"
}

// jsString quotes s as a JavaScript string literal. JSON string syntax is a
// subset, and encoding/json escapes U+2028 and U+2029.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func jsValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return jsString(fmt.Sprint(v))
	}
	return string(b)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func propKey(key string) string {
	if isIdent(key) {
		return key
	}
	return jsString(key)
}

func access(obj, key string) string {
	if isIdent(key) {
		return obj + "." + key
	}
	return obj + "[" + jsString(key) + "]"
}
