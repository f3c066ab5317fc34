package goemitter

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/mark3labs/openapi2mcp/internal/emitter"
	"github.com/mark3labs/openapi2mcp/internal/project"
	"github.com/mark3labs/openapi2mcp/internal/spec"
)

const configTemplate = `{{.Header}}

package client

// BaseURL is the first server declared by the API description.
const BaseURL = {{q .Project.BaseURL}}

// AuthConfig describes how requests authenticate. Applying it is up to the
// Caller.
type AuthConfig struct {
	Kind             string
	SchemeName       string
	Source           string
	In               string
	ParamName        string
	BearerFormat     string
	AuthURL          string
	TokenURL         string
	RefreshURL       string
	OpenIDConnectURL string
	Scopes           []string
}

// Auth is the authentication the generated tools expect.
var Auth = AuthConfig{
// START_OF Features.Auth
//	Kind: {{q .Security.Kind}},
//	SchemeName: {{q .Security.SchemeName}},
//	Source: {{q .Security.Source}},
// END_OF Features.Auth
// START_OF Features.OAuth2
//	AuthURL: {{q .Security.AuthURL}},
//	TokenURL: {{q .Security.TokenURL}},
//	RefreshURL: {{q .Security.RefreshURL}},
//	Scopes: []string{ {{- range $i, $s := .Security.Scopes}}{{if $i}}, {{end}}{{q $s}}{{end -}} },
// END_OF Features.OAuth2
// START_OF Features.APIKey
//	In: {{q .Security.In}},
//	ParamName: {{q .Security.ParamName}},
// END_OF Features.APIKey
// START_OF Features.Bearer
//	BearerFormat: {{q .Security.BearerFormat}},
// END_OF Features.Bearer
// START_OF Features.OpenIDConnect
//	OpenIDConnectURL: {{q .Security.OpenIDConnectURL}},
// END_OF Features.OpenIDConnect
}
`

const clientSource = `
// Package client is the seam between generated tools and the HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Request is one API call assembled by a tool handler.
type Request struct {
	Method  string
	Path    string // template, e.g. /items/{id}
	Params  map[string]string
	Query   url.Values
	Header  http.Header
	Cookies []*http.Cookie
	Body    any

	fields []Field
}

func NewRequest(method, path string) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Params: map[string]string{},
		Query:  url.Values{},
		Header: http.Header{},
	}
}

func (r *Request) PathValue(name string, v any) {
	if s, ok := text(v); ok {
		r.Params[name] = s
	}
}

func (r *Request) SetQuery(name string, v any) {
	rv := deref(v)
	if rv.IsValid() && rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		for i := 0; i < rv.Len(); i++ {
			if s, ok := text(rv.Index(i).Interface()); ok {
				r.Query.Add(name, s)
			}
		}
		return
	}
	if s, ok := text(v); ok {
		r.Query.Set(name, s)
	}
}

func (r *Request) SetHeader(name string, v any) {
	if s, ok := text(v); ok {
		r.Header.Set(name, s)
	}
}

func (r *Request) SetCookie(name string, v any) {
	if s, ok := text(v); ok {
		r.Cookies = append(r.Cookies, &http.Cookie{Name: name, Value: s})
	}
}

func (r *Request) SetBody(v any) {
	if !isNil(v) {
		r.Body = v
	}
}

func (r *Request) SetBodyField(name string, v any) {
	if !isNil(v) {
		r.fields = append(r.fields, Field{Name: name, Value: v})
	}
}

// URL expands the path template against base and appends the query.
func (r *Request) URL(base string) string {
	path := r.Path
	for name, v := range r.Params {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(v))
	}
	u := strings.TrimRight(base, "/") + path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	return u
}

// Payload encodes the request body, or returns nil when there is none.
func (r *Request) Payload() ([]byte, error) {
	if len(r.fields) > 0 {
		return MarshalObject(r.fields...)
	}
	if r.Body == nil {
		return nil, nil
	}
	return json.Marshal(r.Body)
}

// Caller performs API requests. Transport, base URL and authentication
// are its concern.
type Caller interface {
	Do(ctx context.Context, r *Request) (any, error)
}

type CallerFunc func(ctx context.Context, r *Request) (any, error)

func (f CallerFunc) Do(ctx context.Context, r *Request) (any, error) { return f(ctx, r) }

// Decode unmarshals tool arguments; empty arguments leave v untouched.
func Decode(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// Call runs r through caller and renders the outcome as a tool result.
func Call(ctx context.Context, caller Caller, r *Request) *mcp.CallToolResult {
	if caller == nil {
		return ErrorResult(fmt.Errorf("no API client configured for %s %s", r.Method, r.Path))
	}
	out, err := caller.Do(ctx, r)
	if err != nil {
		return ErrorResult(err)
	}
	text, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return ErrorResult(err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(text)}}}
}

func ErrorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + err.Error()}},
	}
}

// Field is one property written by MarshalObject.
type Field struct {
	Name  string
	Value any
	Omit  bool
}

// MarshalObject writes fields as a JSON object in order.
func MarshalObject(fields ...Field) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, f := range fields {
		if f.Omit {
			continue
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func deref(v any) reflect.Value {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func text(v any) (string, bool) {
	rv := deref(v)
	if !rv.IsValid() || isNil(v) {
		return "", false
	}
	return fmt.Sprint(rv.Interface()), true
}
`

var config = template.Must(template.New("config.go").Funcs(template.FuncMap{
	"q": func(v any) string { return strconv.Quote(fmt.Sprint(v)) },
}).Parse(configTemplate))

// EmitProject writes the shared client package and tools/register.go.
func (t *Target) EmitProject(ctx emitter.ProjectContext) ([]emitter.Artifact, error) {
	var buf bytes.Buffer
	if err := config.Execute(&buf, map[string]any{
		"Header":   emitter.Header,
		"Project":  ctx.Project,
		"Security": ctx.Security,
	}); err != nil {
		return nil, fmt.Errorf("go: render config: %w", err)
	}
	kind := ctx.Security.Kind
	cfg, err := project.ApplyFeatures(buf.String(), map[string]bool{
		"Auth":          ctx.Security.Enabled(),
		"OAuth2":        kind == spec.OAuth2,
		"APIKey":        kind == spec.APIKey,
		"Bearer":        kind == spec.HTTPBearer,
		"OpenIDConnect": kind == spec.OpenIDConnect,
	})
	if err != nil {
		return nil, fmt.Errorf("go: config: %w", err)
	}

	files := []struct{ path, src string }{
		{"tools/client/client.go", emitter.Header + "\n" + clientSource},
		{"tools/client/config.go", cfg},
		{"tools/register.go", registry(ctx)},
	}
	out := make([]emitter.Artifact, 0, len(files))
	for _, fl := range files {
		src, err := format(fl.path, fl.src)
		if err != nil {
			return nil, err
		}
		out = append(out, emitter.Artifact{Path: fl.path, Content: src})
	}
	return out, nil
}

func registry(ctx emitter.ProjectContext) string {
	mod := modulePath(ctx.Project)
	var b strings.Builder
	b.WriteString(emitter.Header + "\n\n")
	b.WriteString("// Package tools registers every generated tool.\n")
	b.WriteString("package tools\n\n")
	b.WriteString("import (\n")
	fmt.Fprintf(&b, "\tmcp %q\n\n", sdkImport)
	fmt.Fprintf(&b, "\tclient %q\n", mod+"/tools/client")
	for _, tl := range ctx.Tools {
		pkg := PackageName(tl.Name)
		fmt.Fprintf(&b, "\t%s %q\n", pkg, mod+"/tools/"+pkg)
	}
	b.WriteString(")\n\n")

	b.WriteString("// Names lists the generated tools in registration order.\n")
	b.WriteString("var Names = []string{\n")
	for _, tl := range ctx.Tools {
		fmt.Fprintf(&b, "\t%s.Name,\n", PackageName(tl.Name))
	}
	b.WriteString("}\n\n")

	b.WriteString("// RegisterAll adds every tool to server.\n")
	b.WriteString("func RegisterAll(server *mcp.Server, caller client.Caller) {\n")
	for _, tl := range ctx.Tools {
		fmt.Fprintf(&b, "\t%s.Register(server, caller)\n", PackageName(tl.Name))
	}
	b.WriteString("}\n")
	return b.String()
}
