package spec

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"gopkg.in/yaml.v3"
)

// Syntax is the surface syntax of a raw document.
type Syntax int

const (
	SyntaxAuto Syntax = iota
	SyntaxJSON
	SyntaxYAML
)

func (s Syntax) String() string {
	switch s {
	case SyntaxJSON:
		return "json"
	case SyntaxYAML:
		return "yaml"
	default:
		return "auto"
	}
}

// Info is the document's info object.
type Info struct {
	Title       string
	Version     string
	Description string
}

// Document is the raw parsed OpenAPI document. It is immutable once parsed.
type Document struct {
	root    *yaml.Node
	syntax  Syntax
	version string
}

// Sniff guesses the surface syntax from content. An object that opens with
// a quoted key, or closes at once, is JSON. Anything else is YAML, including
// flow mappings such as {openapi: 3.0.0, ...}.
func Sniff(data []byte) Syntax {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return SyntaxYAML
	}
	rest := bytes.TrimLeft(trimmed[1:], " \t\r\n")
	if len(rest) == 0 || rest[0] == '"' || rest[0] == '}' {
		return SyntaxJSON
	}
	return SyntaxYAML
}

// Parse parses data into a Document and checks that it declares an OpenAPI
// 3.x version. With SyntaxAuto the syntax is sniffed from content.
func Parse(data []byte, syntax Syntax) (*Document, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, Errorf(MalformedInput, "document is empty")
	}
	if syntax == SyntaxAuto {
		syntax = Sniff(data)
	}
	if syntax == SyntaxJSON {
		if err := checkJSON(data); err != nil {
			return nil, err
		}
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, Errorf(MalformedInput, "parse %s: %v", syntax, err).Wrap(err)
	}
	top := deref(&root)
	if top == nil || top.Kind != yaml.MappingNode {
		return nil, Errorf(MalformedInput, "document root must be a mapping").At("#")
	}

	version, err := checkVersion(top)
	if err != nil {
		return nil, err
	}
	return &Document{root: top, syntax: syntax, version: version}, nil
}

func checkJSON(data []byte) error {
	var v any
	err := json.Unmarshal(data, &v)
	if err == nil {
		return nil
	}
	var se *json.SyntaxError
	if errors.As(err, &se) {
		line, col := lineCol(data, se.Offset)
		return Errorf(MalformedInput, "parse json: line %d column %d: %v", line, col, se).Wrap(err)
	}
	return Errorf(MalformedInput, "parse json: %v", err).Wrap(err)
}

func lineCol(data []byte, offset int64) (int, int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	line, col := 1, 1
	for _, b := range data[:offset] {
		if b == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

func checkVersion(root *yaml.Node) (string, error) {
	if n := lookup(root, "openapi"); n != nil {
		v := strings.TrimSpace(scalar(n))
		if strings.HasPrefix(v, "3.") {
			return v, nil
		}
		return "", Errorf(UnsupportedVersion, "openapi version %q is not supported (expected 3.x)", v).At("#/openapi")
	}
	if n := lookup(root, "swagger"); n != nil {
		return "", Errorf(UnsupportedVersion, "swagger version %q is not supported (expected openapi 3.x)", scalar(n)).At("#/swagger")
	}
	return "", Errorf(MalformedInput, "missing 'openapi' version field").At("#")
}

// Version returns the declared openapi version, e.g. "3.0.3".
func (d *Document) Version() string { return d.version }

// Syntax returns the surface syntax the document was parsed from.
func (d *Document) Syntax() Syntax { return d.syntax }

func (d *Document) Info() Info {
	info := lookup(d.root, "info")
	return Info{
		Title:       scalar(lookup(info, "title")),
		Version:     scalar(lookup(info, "version")),
		Description: scalar(lookup(info, "description")),
	}
}

// Servers returns the declared server URLs in order.
func (d *Document) Servers() []string {
	var out []string
	for _, s := range items(lookup(d.root, "servers")) {
		if u := strings.TrimSpace(scalar(lookup(s, "url"))); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// SchemaNames lists component schema names in declaration order.
func (d *Document) SchemaNames() []string {
	var out []string
	for _, p := range pairs(lookup(lookup(d.root, "components"), "schemas")) {
		out = append(out, p.key)
	}
	return out
}

func (d *Document) at(pointer string) (*yaml.Node, bool) {
	return at(d.root, pointer)
}
