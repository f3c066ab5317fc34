package spec

import (
	"mime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type HttpMethod string

const (
	GET     HttpMethod = "get"
	POST    HttpMethod = "post"
	PUT     HttpMethod = "put"
	DELETE  HttpMethod = "delete"
	PATCH   HttpMethod = "patch"
	HEAD    HttpMethod = "head"
	OPTIONS HttpMethod = "options"
	TRACE   HttpMethod = "trace"
)

var methods = map[string]HttpMethod{
	"get": GET, "post": POST, "put": PUT, "delete": DELETE,
	"patch": PATCH, "head": HEAD, "options": OPTIONS, "trace": TRACE,
}

// ParseMethod accepts a method name in any case.
func ParseMethod(s string) (HttpMethod, bool) {
	m, ok := methods[strings.ToLower(strings.TrimSpace(s))]
	return m, ok
}

func (m HttpMethod) Upper() string { return strings.ToUpper(string(m)) }

type ParameterLocation string

const (
	InPath   ParameterLocation = "path"
	InQuery  ParameterLocation = "query"
	InHeader ParameterLocation = "header"
	InCookie ParameterLocation = "cookie"
)

type Parameter struct {
	Name        string
	In          ParameterLocation
	Required    bool
	Description string
	Schema      *SchemaNode
}

// RequestBody is the chosen media type of an operation's body. Supported is
// false when no JSON media type is declared; such bodies stay on the
// Operation but are left out of the tool input.
type RequestBody struct {
	ContentType string
	Required    bool
	Supported   bool
	Description string
	Schema      *SchemaNode
}

type Response struct {
	Status      string // 200, 4xx, default
	Description string
	ContentType string
	Schema      *SchemaNode // nil when the response has no content
}

type SchemeKind string

const (
	APIKey        SchemeKind = "apiKey"
	HTTPBearer    SchemeKind = "http-bearer"
	HTTPBasic     SchemeKind = "http-basic"
	OAuth2        SchemeKind = "oauth2"
	OpenIDConnect SchemeKind = "openIdConnect"
)

// SecurityScheme is a declared components.securitySchemes entry. For oauth2
// the endpoints come from the first flow present, tried in the order
// authorizationCode, implicit, password, clientCredentials.
type SecurityScheme struct {
	Name             string
	Kind             SchemeKind
	Description      string
	In               string // apiKey: header|query|cookie
	ParamName        string // apiKey
	BearerFormat     string
	AuthURL          string
	TokenURL         string
	RefreshURL       string
	Scopes           []string
	OpenIDConnectURL string
}

type SecurityRequirement struct {
	Scheme SecurityScheme
	Scopes []string
}

// Operation is one method+path entry with everything it refers to resolved.
type Operation struct {
	Path        string
	Method      HttpMethod
	OperationID string // empty when not declared
	Summary     string
	Description string
	Tags        []string
	Parameters  []Parameter
	RequestBody *RequestBody
	Responses   []Response
	Security    []SecurityRequirement // empty means unauthenticated
	Pointer     string
}

// Key renders the operation for diagnostics, e.g. "GET /items/{id}".
func (o *Operation) Key() string { return o.Method.Upper() + " " + o.Path }

// Success returns the first 2xx response in declaration order.
func (o *Operation) Success() (Response, bool) {
	for _, r := range o.Responses {
		if strings.HasPrefix(r.Status, "2") {
			return r, true
		}
	}
	return Response{}, false
}

// Extract walks the path table in declaration order and builds one Operation
// per method. All component schemas are resolved first so that every
// dangling reference in the document is reported.
func Extract(doc *Document, r *Resolver) ([]*Operation, error) {
	x := &extractor{doc: doc, r: r}
	schemes, err := x.securitySchemes()
	if err != nil {
		return nil, err
	}
	x.schemes = schemes
	defaults, err := x.requirements(lookup(doc.root, "security"), "#/security")
	if err != nil {
		return nil, err
	}
	if err := r.Components(); err != nil {
		return nil, err
	}

	var out []*Operation
	for _, p := range pairs(lookup(doc.root, "paths")) {
		itemPtr := join("#/paths", p.key)
		item, itemPtr, err := x.follow(p.value, itemPtr)
		if err != nil {
			return nil, err
		}
		for _, m := range pairs(item) {
			method, ok := methods[m.key]
			if !ok {
				continue
			}
			op, err := x.operation(p.key, method, item, m.value, itemPtr, defaults)
			if err != nil {
				return nil, withOperation(err, method.Upper()+" "+p.key)
			}
			out = append(out, op)
		}
	}
	return out, nil
}

type extractor struct {
	doc     *Document
	r       *Resolver
	schemes map[string]SecurityScheme
}

// follow chases local $refs of non-schema objects (path items, parameters,
// request bodies, responses, security schemes) and returns the target with
// its pointer.
func (x *extractor) follow(raw *yaml.Node, ptr string) (*yaml.Node, string, error) {
	for hops := 0; ; hops++ {
		ref := refOf(raw)
		if ref == "" {
			return raw, ptr, nil
		}
		if hops > 16 {
			return nil, "", Errorf(DanglingReference, "reference chain through %q does not end", ref).At(ptr + "/$ref")
		}
		if !strings.HasPrefix(ref, "#/") {
			return nil, "", Errorf(DanglingReference, "external reference %q is not supported", ref).At(ptr + "/$ref")
		}
		target, ok := x.doc.at(ref)
		if !ok {
			return nil, "", Errorf(DanglingReference, "reference %q does not resolve", ref).At(ptr + "/$ref")
		}
		raw, ptr = target, ref
	}
}

func (x *extractor) operation(path string, method HttpMethod, item, raw *yaml.Node, itemPtr string, defaults []SecurityRequirement) (*Operation, error) {
	ptr := join(itemPtr, string(method))
	op := &Operation{
		Path:        path,
		Method:      method,
		OperationID: strings.TrimSpace(scalar(lookup(raw, "operationId"))),
		Summary:     strings.TrimSpace(scalar(lookup(raw, "summary"))),
		Description: strings.TrimSpace(scalar(lookup(raw, "description"))),
		Tags:        stringList(lookup(raw, "tags")),
		Pointer:     ptr,
	}

	own, err := x.parameters(lookup(raw, "parameters"), ptr)
	if err != nil {
		return nil, err
	}
	shared, err := x.parameters(lookup(item, "parameters"), itemPtr)
	if err != nil {
		return nil, err
	}
	op.Parameters = mergeParameters(own, shared)

	if rb := lookup(raw, "requestBody"); rb != nil {
		body, err := x.requestBody(rb, ptr+"/requestBody")
		if err != nil {
			return nil, err
		}
		op.RequestBody = body
	}

	for _, p := range pairs(lookup(raw, "responses")) {
		resp, err := x.response(p.key, p.value, join(ptr, "responses", p.key))
		if err != nil {
			return nil, err
		}
		op.Responses = append(op.Responses, resp)
	}

	op.Security = defaults
	if sec := lookup(raw, "security"); sec != nil {
		reqs, err := x.requirements(sec, ptr+"/security")
		if err != nil {
			return nil, err
		}
		op.Security = reqs
	}
	return op, nil
}

// mergeParameters puts operation parameters first and adds path-item
// parameters that the operation does not override (same name and location).
func mergeParameters(own, shared []Parameter) []Parameter {
	out := append([]Parameter(nil), own...)
	for _, s := range shared {
		overridden := false
		for _, o := range own {
			if o.Name == s.Name && o.In == s.In {
				overridden = true
				break
			}
		}
		if !overridden {
			out = append(out, s)
		}
	}
	return out
}

func (x *extractor) parameters(list *yaml.Node, base string) ([]Parameter, error) {
	var out []Parameter
	for i, raw := range items(list) {
		raw, ptr, err := x.follow(raw, join(base, "parameters", strconv.Itoa(i)))
		if err != nil {
			return nil, err
		}
		name := scalar(lookup(raw, "name"))
		if name == "" {
			return nil, Errorf(MalformedInput, "parameter has no name").At(ptr)
		}
		in := ParameterLocation(scalar(lookup(raw, "in")))
		switch in {
		case InPath, InQuery, InHeader, InCookie:
		default:
			return nil, Errorf(MalformedInput, "parameter %q has unknown location %q", name, in).At(ptr + "/in")
		}
		schema, err := x.parameterSchema(raw, ptr)
		if err != nil {
			return nil, err
		}
		out = append(out, Parameter{
			Name:        name,
			In:          in,
			Required:    in == InPath || boolean(lookup(raw, "required")),
			Description: strings.TrimSpace(scalar(lookup(raw, "description"))),
			Schema:      schema,
		})
	}
	return out, nil
}

func (x *extractor) parameterSchema(raw *yaml.Node, ptr string) (*SchemaNode, error) {
	if s := lookup(raw, "schema"); s != nil {
		return x.r.resolve(s, ptr+"/schema")
	}
	for _, c := range pairs(lookup(raw, "content")) {
		if s := lookup(c.value, "schema"); s != nil {
			return x.r.resolve(s, join(ptr, "content", c.key, "schema"))
		}
	}
	return &SchemaNode{id: ptr + "/schema", kind: KindAny}, nil
}

// SupportedContentType reports whether bodies of media type ct can be
// described as tool input: application/json and any +json suffix.
func SupportedContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(ct))
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func (x *extractor) requestBody(raw *yaml.Node, ptr string) (*RequestBody, error) {
	raw, ptr, err := x.follow(raw, ptr)
	if err != nil {
		return nil, err
	}
	body := &RequestBody{
		Required:    boolean(lookup(raw, "required")),
		Description: strings.TrimSpace(scalar(lookup(raw, "description"))),
	}
	content := pairs(lookup(raw, "content"))
	for _, c := range content {
		if !SupportedContentType(c.key) {
			continue
		}
		schema, err := x.mediaSchema(c.value, join(ptr, "content", c.key))
		if err != nil {
			return nil, err
		}
		body.ContentType, body.Supported, body.Schema = c.key, true, schema
		return body, nil
	}
	if len(content) > 0 {
		body.ContentType = content[0].key
	}
	return body, nil
}

func (x *extractor) mediaSchema(media *yaml.Node, ptr string) (*SchemaNode, error) {
	if s := lookup(media, "schema"); s != nil {
		return x.r.resolve(s, ptr+"/schema")
	}
	return &SchemaNode{id: ptr + "/schema", kind: KindAny}, nil
}

func (x *extractor) response(status string, raw *yaml.Node, ptr string) (Response, error) {
	raw, ptr, err := x.follow(raw, ptr)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Status: status, Description: strings.TrimSpace(scalar(lookup(raw, "description")))}
	content := pairs(lookup(raw, "content"))
	if len(content) == 0 {
		return resp, nil
	}
	chosen := content[0]
	for _, c := range content {
		if SupportedContentType(c.key) {
			chosen = c
			break
		}
	}
	schema, err := x.mediaSchema(chosen.value, join(ptr, "content", chosen.key))
	if err != nil {
		return Response{}, err
	}
	resp.ContentType, resp.Schema = chosen.key, schema
	return resp, nil
}

func (x *extractor) securitySchemes() (map[string]SecurityScheme, error) {
	out := map[string]SecurityScheme{}
	base := "#/components/securitySchemes"
	for _, p := range pairs(lookup(lookup(x.doc.root, "components"), "securitySchemes")) {
		raw, ptr, err := x.follow(p.value, join(base, p.key))
		if err != nil {
			return nil, err
		}
		s := SecurityScheme{
			Name:        p.key,
			Description: strings.TrimSpace(scalar(lookup(raw, "description"))),
		}
		typ := scalar(lookup(raw, "type"))
		switch typ {
		case "apiKey":
			s.Kind, s.In, s.ParamName = APIKey, scalar(lookup(raw, "in")), scalar(lookup(raw, "name"))
		case "http":
			s.Kind = SchemeKind("http-" + strings.ToLower(scalar(lookup(raw, "scheme"))))
			s.BearerFormat = scalar(lookup(raw, "bearerFormat"))
		case "oauth2":
			s.Kind = OAuth2
			flows := lookup(raw, "flows")
			for _, name := range []string{"authorizationCode", "implicit", "password", "clientCredentials"} {
				flow := lookup(flows, name)
				if flow == nil {
					continue
				}
				s.AuthURL = scalar(lookup(flow, "authorizationUrl"))
				s.TokenURL = scalar(lookup(flow, "tokenUrl"))
				s.RefreshURL = scalar(lookup(flow, "refreshUrl"))
				for _, sc := range pairs(lookup(flow, "scopes")) {
					s.Scopes = append(s.Scopes, sc.key)
				}
				break
			}
		case "openIdConnect":
			s.Kind, s.OpenIDConnectURL = OpenIDConnect, scalar(lookup(raw, "openIdConnectUrl"))
		case "":
			return nil, Errorf(MalformedInput, "security scheme %q has no type", p.key).At(ptr)
		default:
			s.Kind = SchemeKind(typ)
		}
		out[p.key] = s
	}
	return out, nil
}

// requirements flattens a security requirement list. An empty list means
// unauthenticated; empty requirement objects ({}) mark security as optional
// and contribute nothing.
func (x *extractor) requirements(list *yaml.Node, ptr string) ([]SecurityRequirement, error) {
	var out []SecurityRequirement
	seen := map[string]bool{}
	for i, req := range items(list) {
		for _, p := range pairs(req) {
			s, ok := x.schemes[p.key]
			if !ok {
				return nil, Errorf(DanglingReference, "security requirement names undeclared scheme %q", p.key).
					At(join(ptr, strconv.Itoa(i), p.key))
			}
			if seen[p.key] {
				continue
			}
			seen[p.key] = true
			out = append(out, SecurityRequirement{Scheme: s, Scopes: stringList(p.value)})
		}
	}
	return out, nil
}
