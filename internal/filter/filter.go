// Package filter selects the operations that become tools.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mark3labs/openapi2mcp/internal/naming"
	"github.com/mark3labs/openapi2mcp/internal/spec"
)

// Filter is a conjunction of optional predicates. The zero value keeps
// everything.
type Filter struct {
	methods     map[spec.HttpMethod]struct{}
	pattern     *regexp.Regexp
	includeTags map[string]struct{}
	excludeTags map[string]struct{}
}

type Option func(*Filter) error

func New(opts ...Option) (*Filter, error) {
	f := &Filter{}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// WithMethods keeps only operations using one of the given HTTP methods.
func WithMethods(methods ...string) Option {
	return func(f *Filter) error {
		for _, m := range methods {
			if strings.TrimSpace(m) == "" {
				continue
			}
			method, ok := spec.ParseMethod(m)
			if !ok {
				return fmt.Errorf("filter: unknown HTTP method %q", m)
			}
			if f.methods == nil {
				f.methods = map[spec.HttpMethod]struct{}{}
			}
			f.methods[method] = struct{}{}
		}
		return nil
	}
}

// WithPattern keeps operations whose candidate tool name matches expr, or,
// for operations without an operationId, whose path template does. The
// expression is unanchored.
func WithPattern(expr string) Option {
	return func(f *Filter) error {
		if strings.TrimSpace(expr) == "" {
			return nil
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("filter: invalid tool pattern %q: %w", expr, err)
		}
		f.pattern = re
		return nil
	}
}

// WithIncludeTags keeps only operations that have at least one of the given tags.
func WithIncludeTags(tags ...string) Option {
	return func(f *Filter) error {
		f.includeTags = tagSet(f.includeTags, tags)
		return nil
	}
}

// WithExcludeTags removes operations that have any of the given tags.
func WithExcludeTags(tags ...string) Option {
	return func(f *Filter) error {
		f.excludeTags = tagSet(f.excludeTags, tags)
		return nil
	}
}

func tagSet(set map[string]struct{}, tags []string) map[string]struct{} {
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if set == nil {
			set = map[string]struct{}{}
		}
		set[t] = struct{}{}
	}
	return set
}

func (f *Filter) Match(op *spec.Operation) bool {
	if len(f.methods) > 0 {
		if _, ok := f.methods[op.Method]; !ok {
			return false
		}
	}
	if !f.matchTags(op.Tags) {
		return false
	}
	if f.pattern == nil {
		return true
	}
	if f.pattern.MatchString(naming.Canonicalize(op)) {
		return true
	}
	return op.OperationID == "" && f.pattern.MatchString(op.Path)
}

func (f *Filter) matchTags(tags []string) bool {
	for _, t := range tags {
		if _, ok := f.excludeTags[t]; ok {
			return false
		}
	}
	if len(f.includeTags) == 0 {
		return true
	}
	for _, t := range tags {
		if _, ok := f.includeTags[t]; ok {
			return true
		}
	}
	return false
}

// Apply returns the matching operations in their original order.
func (f *Filter) Apply(ops []*spec.Operation) []*spec.Operation {
	out := make([]*spec.Operation, 0, len(ops))
	for _, op := range ops {
		if f.Match(op) {
			out = append(out, op)
		}
	}
	return out
}
