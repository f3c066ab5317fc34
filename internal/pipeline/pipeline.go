// Package pipeline runs the generator stages in order: parse, validate,
// extract, filter, allocate names, build tools, inject security, generate.
// Nothing is written here; artifacts are handed to a project.Writer.
package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mark3labs/openapi2mcp/internal/contract"
	"github.com/mark3labs/openapi2mcp/internal/emitter"
	"github.com/mark3labs/openapi2mcp/internal/emitter/goemitter"
	"github.com/mark3labs/openapi2mcp/internal/emitter/npmemitter"
	"github.com/mark3labs/openapi2mcp/internal/filter"
	"github.com/mark3labs/openapi2mcp/internal/naming"
	"github.com/mark3labs/openapi2mcp/internal/project"
	"github.com/mark3labs/openapi2mcp/internal/security"
	"github.com/mark3labs/openapi2mcp/internal/spec"
	"github.com/mark3labs/openapi2mcp/internal/tool"
)

// DefaultTargets are generated when Config.Targets is empty.
var DefaultTargets = []string{"ts", "go"}

// Config is one generation run.
type Config struct {
	Targets     []string
	Methods     []string
	ToolPattern string
	IncludeTags []string
	ExcludeTags []string

	MaxToolNameLength int // 0 means naming.DefaultMaxLength
	NamePolicy        naming.Policy
	// Taken holds names that are already in use, e.g. by hand-written tools.
	Taken naming.Registry

	Security *security.Override
	// Strict turns validator findings into a MalformedInput error.
	Strict bool
	Syntax spec.Syntax

	// Project overrides the names derived from the document.
	Project emitter.Project

	Logger *zap.Logger
}

// Result is everything a run produced.
type Result struct {
	Info      spec.Info
	Project   emitter.Project
	Tools     []*tool.Tool
	Skipped   []naming.Skipped
	Findings  []spec.Finding
	Security  security.Config
	Artifacts []emitter.Artifact
	Contracts map[string]*contract.Contract
}

// Targets returns the registry of every supported target.
func Targets() *emitter.Registry {
	return emitter.NewRegistry(npmemitter.New(), goemitter.New())
}

const instrumentationName = "openapi2mcp/pipeline"

// Run generates artifacts for data. It either returns every artifact or an
// error; there are no partial results.
func Run(ctx context.Context, data []byte, cfg Config) (*Result, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	targets, err := resolveTargets(cfg.Targets)
	if err != nil {
		return nil, err
	}
	f, err := filter.New(
		filter.WithMethods(cfg.Methods...),
		filter.WithPattern(cfg.ToolPattern),
		filter.WithIncludeTags(cfg.IncludeTags...),
		filter.WithExcludeTags(cfg.ExcludeTags...),
	)
	if err != nil {
		return nil, err
	}
	if cfg.Security != nil {
		if err := cfg.Security.Validate(); err != nil {
			return nil, err
		}
	}

	res := &Result{}

	var doc *spec.Document
	err = stage(ctx, "parse", func(ctx context.Context, span trace.Span) error {
		doc, err = spec.Parse(data, cfg.Syntax)
		if err != nil {
			return err
		}
		span.SetAttributes(
			attribute.String("openapi.version", doc.Version()),
			attribute.String("openapi.syntax", doc.Syntax().String()),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Info = doc.Info()
	log.Debug("parsed document", zap.String("title", res.Info.Title), zap.String("openapi", doc.Version()))

	err = stage(ctx, "validate", func(ctx context.Context, span trace.Span) error {
		res.Findings = spec.Validate(ctx, data)
		span.SetAttributes(attribute.Int("findings", len(res.Findings)))
		for _, fd := range res.Findings {
			log.Warn("document validation finding", zap.String("message", fd.Message), zap.String("pointer", fd.Pointer))
		}
		if cfg.Strict && len(res.Findings) > 0 {
			first := res.Findings[0]
			return spec.Errorf(spec.MalformedInput, "document failed validation with %d finding(s): %s", len(res.Findings), first.Message).At(first.Pointer)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var (
		resolver = spec.NewResolver(doc)
		ops      []*spec.Operation
	)
	err = stage(ctx, "extract", func(ctx context.Context, span trace.Span) error {
		ops, err = spec.Extract(doc, resolver)
		span.SetAttributes(attribute.Int("operations", len(ops)))
		return err
	})
	if err != nil {
		return nil, err
	}
	graph := resolver.Graph()

	_ = stage(ctx, "filter", func(ctx context.Context, span trace.Span) error {
		before := len(ops)
		ops = f.Apply(ops)
		span.SetAttributes(attribute.Int("operations.in", before), attribute.Int("operations.out", len(ops)))
		log.Debug("filtered operations", zap.Int("kept", len(ops)), zap.Int("dropped", before-len(ops)))
		return nil
	})

	var alloc naming.Allocation
	err = stage(ctx, "allocate", func(ctx context.Context, span trace.Span) error {
		limit := cfg.MaxToolNameLength
		if limit <= 0 {
			limit = naming.DefaultMaxLength
		}
		alloc, err = naming.Allocate(ops, cfg.Taken, naming.Config{MaxLength: limit, Policy: cfg.NamePolicy})
		if err != nil {
			return err
		}
		for _, s := range alloc.Skipped {
			log.Warn("skipped operation with a long tool name", zap.String("operation", s.Operation.Key()), zap.String("name", s.Canonical), zap.Int("max", limit))
		}
		for _, a := range alloc.Assigned {
			if a.Truncated || a.Name != a.Canonical {
				log.Debug("renamed tool", zap.String("operation", a.Operation.Key()), zap.String("canonical", a.Canonical), zap.String("name", a.Name))
			}
		}
		span.SetAttributes(attribute.Int("tools", len(alloc.Assigned)), attribute.Int("skipped", len(alloc.Skipped)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Skipped = alloc.Skipped

	err = stage(ctx, "build", func(ctx context.Context, span trace.Span) error {
		for _, a := range alloc.Assigned {
			t, err := tool.Build(a.Operation, a.Name)
			if err != nil {
				return err
			}
			if t.BodyOmitted {
				log.Warn("request body has no supported content type; omitted from tool input",
					zap.String("tool", t.Name), zap.String("contentType", t.Operation.RequestBody.ContentType))
			}
			res.Tools = append(res.Tools, t)
		}
		if res.Security, err = security.Inject(res.Tools, cfg.Security); err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("tools", len(res.Tools)), attribute.String("security.kind", string(res.Security.Kind)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if hasTarget(targets, "go") {
		warnUnions(log, res.Tools)
	}

	res.Project = projectFor(doc, cfg.Project)
	err = stage(ctx, "generate", func(ctx context.Context, span trace.Span) error {
		out, err := emitter.Generate(ctx, emitter.Request{
			Graph:    graph,
			Tools:    res.Tools,
			Targets:  targets,
			Security: res.Security,
			Project:  res.Project,
		})
		if err != nil {
			return err
		}
		res.Artifacts, res.Contracts = out.Artifacts, out.Contracts
		span.SetAttributes(attribute.Int("artifacts", len(out.Artifacts)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("generated tools",
		zap.Int("tools", len(res.Tools)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("artifacts", len(res.Artifacts)),
		zap.Strings("targets", targetNames(targets)))
	return res, nil
}

// Write hands every artifact to w in order.
func Write(w project.Writer, arts []emitter.Artifact) error {
	for _, a := range arts {
		if err := w.WriteFile(a.Path, a.Content); err != nil {
			return fmt.Errorf("write %s: %w", a.Path, err)
		}
	}
	return nil
}

func stage(ctx context.Context, name string, fn func(context.Context, trace.Span) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name)
	defer span.End()
	if err := fn(ctx, span); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
		return err
	}
	return nil
}

func resolveTargets(names []string) ([]emitter.Target, error) {
	if len(names) == 0 {
		names = DefaultTargets
	}
	reg := Targets()
	seen := map[string]bool{}
	var out []emitter.Target
	for _, n := range names {
		t, err := reg.Lookup(n)
		if err != nil {
			return nil, err
		}
		if seen[t.Name()] {
			continue
		}
		seen[t.Name()] = true
		out = append(out, t)
	}
	return out, nil
}

func hasTarget(targets []emitter.Target, name string) bool {
	for _, t := range targets {
		if t.Name() == name {
			return true
		}
	}
	return false
}

func targetNames(targets []emitter.Target) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.Name())
	}
	return out
}

// warnUnions logs each tool whose input carries a union, which the Go
// target leaves unenforced.
func warnUnions(log *zap.Logger, tools []*tool.Tool) {
	for _, t := range tools {
		if n := countUnions(t.Input, map[*spec.SchemaNode]bool{}); n > 0 {
			log.Warn("union types are not enforced by the go target", zap.String("tool", t.Name), zap.Int("unions", n))
		}
	}
}

func countUnions(n *spec.SchemaNode, seen map[*spec.SchemaNode]bool) int {
	if n == nil || seen[n] {
		return 0
	}
	seen[n] = true
	switch n.Kind() {
	case spec.KindUnion:
		c := 1
		for _, v := range n.Variants() {
			c += countUnions(v, seen)
		}
		return c
	case spec.KindArray:
		return countUnions(n.Elem(), seen)
	case spec.KindObject:
		c := countUnions(n.Values(), seen)
		for _, f := range n.Fields() {
			c += countUnions(f.Schema, seen)
		}
		return c
	}
	return 0
}

// projectFor fills project metadata from the document where cfg leaves it
// empty.
func projectFor(doc *spec.Document, p emitter.Project) emitter.Project {
	info := doc.Info()
	if p.Name == "" {
		p.Name = emitter.ProjectName(info.Title)
	}
	if p.Version == "" {
		p.Version = info.Version
	}
	if p.Description == "" {
		p.Description = info.Description
	}
	if p.BaseURL == "" {
		if servers := doc.Servers(); len(servers) > 0 {
			p.BaseURL = servers[0]
		}
	}
	if p.GoModule == "" {
		p.GoModule = "example.com/" + p.Name
	}
	return p
}
