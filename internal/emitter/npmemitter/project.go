package npmemitter

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/mark3labs/openapi2mcp/internal/emitter"
	"github.com/mark3labs/openapi2mcp/internal/project"
	"github.com/mark3labs/openapi2mcp/internal/spec"
)

const constantsTemplate = `{{.Header}}

export const PROJECT_NAME = {{js .Project.Name}};
export const API_VERSION = {{js .Project.Version}};
export const API_BASE_URL = process.env.API_BASE_URL ?? {{js .Project.BaseURL}};

// START_OF Features.Auth
// export const AUTH_KIND = {{js .Security.Kind}};
// export const AUTH_SCHEME = {{js .Security.SchemeName}};
// export const AUTH_SOURCE = {{js .Security.Source}};
// END_OF Features.Auth
// START_OF Features.OAuth2
// export const OAUTH_AUTHORIZATION_URL = {{js .Security.AuthURL}};
// export const OAUTH_TOKEN_URL = {{js .Security.TokenURL}};
// export const OAUTH_REFRESH_URL = {{js .Security.RefreshURL}};
// export const OAUTH_SCOPES: readonly string[] = [{{range $i, $s := .Security.Scopes}}{{if $i}}, {{end}}{{js $s}}{{end}}];
// END_OF Features.OAuth2
// START_OF Features.APIKey
// export const API_KEY_IN = {{js .Security.In}};
// export const API_KEY_NAME = {{js .Security.ParamName}};
// END_OF Features.APIKey
// START_OF Features.Bearer
// export const BEARER_FORMAT = {{js .Security.BearerFormat}};
// END_OF Features.Bearer
// START_OF Features.OpenIDConnect
// export const OPENID_CONNECT_URL = {{js .Security.OpenIDConnectURL}};
// END_OF Features.OpenIDConnect
`

const clientSource = `export interface ApiRequest {
  method: string;
  path: string;
  query: Record<string, unknown>;
  headers: Record<string, unknown>;
  cookies: Record<string, unknown>;
  body?: unknown;
}

export type ApiClient = (request: ApiRequest) => Promise<unknown>;

let client: ApiClient | undefined;

// setApiClient installs the function every tool calls. Base URL and
// authentication are its concern; see constants.ts.
export function setApiClient(c: ApiClient): void {
  client = c;
}

export async function callApi(request: ApiRequest): Promise<unknown> {
  if (!client) {
    throw new Error(` + "`no API client configured for ${request.method} ${request.path}`" + `);
  }
  return client(request);
}
`

var constants = template.Must(template.New("constants.ts").Funcs(template.FuncMap{
	"js": func(v any) string { return jsString(fmt.Sprint(v)) },
}).Parse(constantsTemplate))

// EmitProject writes the tool index, constants and the client seam.
func (t *Target) EmitProject(ctx emitter.ProjectContext) ([]emitter.Artifact, error) {
	var buf bytes.Buffer
	if err := constants.Execute(&buf, map[string]any{
		"Header":   emitter.Header,
		"Project":  ctx.Project,
		"Security": ctx.Security,
	}); err != nil {
		return nil, fmt.Errorf("ts: render constants: %w", err)
	}
	kind := ctx.Security.Kind
	consts, err := project.ApplyFeatures(buf.String(), map[string]bool{
		"Auth":          ctx.Security.Enabled(),
		"OAuth2":        kind == spec.OAuth2,
		"APIKey":        kind == spec.APIKey,
		"Bearer":        kind == spec.HTTPBearer,
		"OpenIDConnect": kind == spec.OpenIDConnect,
	})
	if err != nil {
		return nil, fmt.Errorf("ts: constants: %w", err)
	}

	return []emitter.Artifact{
		{Path: "src/tools/index.ts", Content: []byte(index(ctx))},
		{Path: "src/constants.ts", Content: []byte(consts)},
		{Path: "src/client.ts", Content: []byte(emitter.Header + "\n" + clientSource)},
	}, nil
}

func index(ctx emitter.ProjectContext) string {
	var b strings.Builder
	b.WriteString(emitter.Header + "\n")
	b.WriteString("import type { McpServer } from \"@modelcontextprotocol/sdk/server/mcp.js\";\n")
	for _, t := range ctx.Tools {
		fmt.Fprintf(&b, "import * as %s from %s;\n", moduleAlias(t.Name), jsString("./"+t.Name+".js"))
	}
	b.WriteString("\nexport const toolNames: readonly string[] = [")
	for i, t := range ctx.Tools {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(moduleAlias(t.Name) + ".name")
	}
	b.WriteString("];\n\n")
	b.WriteString("export function setupAllTools(server: McpServer): void {\n")
	for _, t := range ctx.Tools {
		fmt.Fprintf(&b, "  %s.setupTool(server);\n", moduleAlias(t.Name))
	}
	b.WriteString("}\n")
	return b.String()
}

// moduleAlias is unique per tool because tool names are.
func moduleAlias(name string) string {
	return "tool_" + name
}
