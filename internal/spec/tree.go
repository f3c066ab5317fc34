package spec

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Helpers over the raw yaml.v3 tree. Mapping nodes keep declaration order,
// which is what gives the pipeline its stable operation order.

type pair struct {
	key   string
	value *yaml.Node
}

func deref(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	if n != nil && n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		return deref(n.Content[0])
	}
	return n
}

func lookup(n *yaml.Node, key string) *yaml.Node {
	n = deref(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return deref(n.Content[i+1])
		}
	}
	return nil
}

func pairs(n *yaml.Node) []pair {
	n = deref(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	out := make([]pair, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out = append(out, pair{key: n.Content[i].Value, value: deref(n.Content[i+1])})
	}
	return out
}

func items(n *yaml.Node) []*yaml.Node {
	n = deref(n)
	if n == nil || n.Kind != yaml.SequenceNode {
		return nil
	}
	out := make([]*yaml.Node, 0, len(n.Content))
	for _, c := range n.Content {
		out = append(out, deref(c))
	}
	return out
}

func scalar(n *yaml.Node) string {
	n = deref(n)
	if n == nil || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}

func boolean(n *yaml.Node) bool {
	v, err := strconv.ParseBool(scalar(n))
	return err == nil && v
}

func stringList(n *yaml.Node) []string {
	var out []string
	for _, it := range items(n) {
		if s := scalar(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func refOf(n *yaml.Node) string {
	return scalar(lookup(n, "$ref"))
}

func isMapping(n *yaml.Node) bool {
	n = deref(n)
	return n != nil && n.Kind == yaml.MappingNode
}

// escapeToken escapes one JSON pointer reference token (RFC 6901).
func escapeToken(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}

func unescapeToken(s string) string {
	return strings.NewReplacer("~1", "/", "~0", "~").Replace(s)
}

func join(base string, tokens ...string) string {
	var b strings.Builder
	b.WriteString(base)
	for _, t := range tokens {
		b.WriteByte('/')
		b.WriteString(escapeToken(t))
	}
	return b.String()
}

// at walks a local JSON pointer ("#/a/b/0") from root.
func at(root *yaml.Node, pointer string) (*yaml.Node, bool) {
	if pointer != "#" && !strings.HasPrefix(pointer, "#/") {
		return nil, false
	}
	cur := deref(root)
	rest := strings.TrimPrefix(pointer, "#")
	if rest == "" {
		return cur, cur != nil
	}
	for _, raw := range strings.Split(strings.TrimPrefix(rest, "/"), "/") {
		tok := unescapeToken(raw)
		switch {
		case cur == nil:
			return nil, false
		case cur.Kind == yaml.MappingNode:
			cur = lookup(cur, tok)
		case cur.Kind == yaml.SequenceNode:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(cur.Content) {
				return nil, false
			}
			cur = deref(cur.Content[idx])
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// decodeScalar converts an enum or const value to a plain Go value.
func decodeScalar(n *yaml.Node) any {
	var v any
	if err := n.Decode(&v); err != nil {
		return n.Value
	}
	return v
}
