// Package naming derives tool names from operations and allocates them
// uniquely under a length policy.
package naming

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mark3labs/openapi2mcp/internal/spec"
)

// DefaultMaxLength matches the tool name limit most MCP clients enforce.
const DefaultMaxLength = 64

// Sanitize replaces every run of characters outside [A-Za-z0-9] with a
// single '_' and trims leading and trailing separators.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	sep := false
	for _, r := range s {
		if r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	return b.String()
}

// Canonicalize returns the candidate tool name of op before length policy
// and deduplication: the declared operationId if any, else method and path,
// e.g. "GET /items/{id}" becomes "get_items_id".
func Canonicalize(op *spec.Operation) string {
	base := op.OperationID
	if Sanitize(base) == "" {
		base = string(op.Method) + "_" + strings.NewReplacer("{", "", "}", "").Replace(op.Path)
	}
	name := Sanitize(base)
	if name == "" {
		name = string(op.Method)
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "op_" + name
	}
	return name
}

// Policy decides what happens to a name longer than the maximum.
type Policy int

const (
	// Error fails the run.
	Error Policy = iota
	// Skip drops the tool.
	Skip
	// Truncate cuts the name to the maximum length.
	Truncate
)

func (p Policy) String() string {
	switch p {
	case Skip:
		return "skip"
	case Truncate:
		return "truncate"
	default:
		return "error"
	}
}

// ParsePolicy accepts "error", "skip" or "truncate" in any case. The empty
// string is Error.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error":
		return Error, nil
	case "skip":
		return Skip, nil
	case "truncate":
		return Truncate, nil
	default:
		return Error, fmt.Errorf("unknown name policy %q (allowed: error, skip, truncate)", s)
	}
}

type Config struct {
	MaxLength int // 0 means unlimited
	Policy    Policy
}

// Registry is the set of names already taken. It is a value: Allocate never
// modifies the registry it is given and returns an extended copy instead.
type Registry struct {
	names map[string]struct{}
}

func NewRegistry(names ...string) Registry {
	r := Registry{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		r.names[n] = struct{}{}
	}
	return r
}

func (r Registry) Contains(name string) bool {
	_, ok := r.names[name]
	return ok
}

func (r Registry) Len() int { return len(r.names) }

// Names returns the taken names sorted.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r Registry) clone() Registry {
	c := Registry{names: make(map[string]struct{}, len(r.names)+8)}
	for n := range r.names {
		c.names[n] = struct{}{}
	}
	return c
}

type Assignment struct {
	Operation *spec.Operation
	Name      string
	Canonical string
	Truncated bool
}

// Skipped records an operation dropped by the Skip policy.
type Skipped struct {
	Operation *spec.Operation
	Canonical string
}

type Allocation struct {
	Assigned []Assignment
	Skipped  []Skipped
	Registry Registry
}

// Allocate names ops in order. Collisions with names already taken get the
// first free suffix _2, _3, ... and the base is trimmed so that the suffixed
// name still fits cfg.MaxLength.
func Allocate(ops []*spec.Operation, reg Registry, cfg Config) (Allocation, error) {
	out := Allocation{Registry: reg.clone()}
	for _, op := range ops {
		canonical := Canonicalize(op)
		name, truncated := canonical, false
		if cfg.MaxLength > 0 && len(name) > cfg.MaxLength {
			switch cfg.Policy {
			case Skip:
				out.Skipped = append(out.Skipped, Skipped{Operation: op, Canonical: canonical})
				continue
			case Truncate:
				name, truncated = strings.TrimRight(name[:cfg.MaxLength], "_"), true
			default:
				return Allocation{}, spec.Errorf(spec.ToolNameTooLong,
					"tool name %q has %d characters, the maximum is %d", canonical, len(canonical), cfg.MaxLength).
					For(op.Key()).At(op.Pointer)
			}
		}

		final, ok := dedupe(name, out.Registry, cfg.MaxLength)
		if !ok {
			if cfg.Policy == Skip {
				out.Skipped = append(out.Skipped, Skipped{Operation: op, Canonical: canonical})
				continue
			}
			return Allocation{}, spec.Errorf(spec.ToolNameTooLong,
				"no unique name for %q fits in %d characters", name, cfg.MaxLength).
				For(op.Key()).At(op.Pointer)
		}
		out.Registry.names[final] = struct{}{}
		out.Assigned = append(out.Assigned, Assignment{Operation: op, Name: final, Canonical: canonical, Truncated: truncated})
	}
	return out, nil
}

func dedupe(name string, reg Registry, limit int) (string, bool) {
	if !reg.Contains(name) {
		return name, true
	}
	for n := 2; ; n++ {
		suffix := "_" + strconv.Itoa(n)
		base := name
		if limit > 0 && len(base)+len(suffix) > limit {
			if len(suffix) >= limit {
				return "", false
			}
			base = strings.TrimRight(base[:limit-len(suffix)], "_")
			if base == "" {
				return "", false
			}
		}
		if candidate := base + suffix; !reg.Contains(candidate) {
			return candidate, true
		}
	}
}

// FieldKey is the input contract key for a declared field or parameter
// name: Sanitize, or "field" when nothing legal is left.
func FieldKey(wire string) string {
	if k := Sanitize(wire); k != "" {
		return k
	}
	return "field"
}
