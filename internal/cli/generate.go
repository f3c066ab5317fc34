package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mark3labs/openapi2mcp/internal/emitter"
	"github.com/mark3labs/openapi2mcp/internal/naming"
	"github.com/mark3labs/openapi2mcp/internal/pipeline"
	"github.com/mark3labs/openapi2mcp/internal/project"
	"github.com/mark3labs/openapi2mcp/internal/security"
	"github.com/mark3labs/openapi2mcp/internal/spec"
)

// GenerateConfig captures all inputs that influence the generate command after
// merging defaults, config file values, and CLI overrides.
type GenerateConfig struct {
	Input             string
	Out               string
	Targets           []string
	IncludeMethods    []string
	IncludeTools      string
	IncludeTags       []string
	ExcludeTags       []string
	MaxToolNameLength int
	NamePolicy        string
	SkipLongToolNames bool
	OAuth2            bool
	OAuth2AuthURL     string
	OAuth2TokenURL    string
	OAuth2RefreshURL  string
	OAuth2Scopes      []string
	Strict            bool
	Name              string
	GoModule          string
	ConfigPath        string
	DryRun            bool
	Force             bool
	Verbose           bool
}

func defaultGenerateConfig() GenerateConfig {
	return GenerateConfig{MaxToolNameLength: naming.DefaultMaxLength}
}

var generateRunner = runGenerate

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate MCP tools from an OpenAPI 3.x document",
		Long: "Generate MCP tool source for every selected operation of an OpenAPI 3.x document. " +
			"Options can be provided via flags, config files, or defaults.",
		Example: strings.TrimSpace(`  openapi2mcp generate --input openapi.yaml --target ts --out ./server
  openapi2mcp generate --input https://example.com/openapi.json --include-methods get,post --dry-run
  openapi2mcp --config openapi2mcp.yaml generate --force`),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveGenerateConfig(cmd)
			if err != nil {
				return err
			}
			return generateRunner(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("input", "", "Path or http(s) URL of the OpenAPI 3.x document")
	flags.String("out", "", "Output directory (derived from the document title when omitted)")
	flags.StringSlice("target", nil, "Target to emit, repeatable (ts|go); defaults to ts,go")
	flags.StringSlice("include-methods", nil, "Only include operations with these HTTP methods")
	flags.String("include-tools", "", "Only include operations whose operationId (or path) matches this regex")
	flags.StringSlice("include-tags", nil, "Only include operations with these tags")
	flags.StringSlice("exclude-tags", nil, "Exclude operations with these tags")
	flags.Int("max-tool-name-length", naming.DefaultMaxLength, "Maximum tool name length")
	flags.String("name-policy", "", "What to do with names over the limit (error|skip|truncate); defaults to error")
	flags.Bool("skip-long-tool-names", false, "Shorthand for --name-policy skip")
	flags.Bool("oauth2", false, "Configure OAuth2 authentication for the generated project")
	flags.String("oauth2-auth-url", "", "OAuth2 authorization URL (requires --oauth2)")
	flags.String("oauth2-token-url", "", "OAuth2 token URL (requires --oauth2)")
	flags.String("oauth2-refresh-url", "", "OAuth2 refresh URL (requires --oauth2)")
	flags.StringSlice("oauth2-scopes", nil, "OAuth2 scopes (requires --oauth2)")
	flags.Bool("strict", false, "Fail when the document does not pass OpenAPI validation")
	flags.String("name", "", "Project name (derived from the document title when omitted)")
	flags.String("go-module", "", "Go module path of the generated project")
	flags.Bool("dry-run", false, "Preview planned outputs without writing files")
	flags.Bool("force", false, "Write into a non-empty output directory")

	return cmd
}

func resolveGenerateConfig(cmd *cobra.Command) (*GenerateConfig, error) {
	cfg := defaultGenerateConfig()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	configPath = strings.TrimSpace(configPath)
	if configPath != "" {
		cfg.ConfigPath = configPath
		if err := applyGenerateConfigFromFile(&cfg, configPath); err != nil {
			return nil, err
		}
	}

	if err := applyGenerateFlagOverrides(cmd.Flags(), &cfg); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyGenerateFlagOverrides(flags *pflag.FlagSet, cfg *GenerateConfig) error {
	strs := map[string]*string{
		"input":              &cfg.Input,
		"out":                &cfg.Out,
		"include-tools":      &cfg.IncludeTools,
		"name-policy":        &cfg.NamePolicy,
		"oauth2-auth-url":    &cfg.OAuth2AuthURL,
		"oauth2-token-url":   &cfg.OAuth2TokenURL,
		"oauth2-refresh-url": &cfg.OAuth2RefreshURL,
		"name":               &cfg.Name,
		"go-module":          &cfg.GoModule,
	}
	for name, dst := range strs {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*dst = strings.TrimSpace(value)
	}

	lists := map[string]*[]string{
		"target":          &cfg.Targets,
		"include-methods": &cfg.IncludeMethods,
		"include-tags":    &cfg.IncludeTags,
		"exclude-tags":    &cfg.ExcludeTags,
		"oauth2-scopes":   &cfg.OAuth2Scopes,
	}
	for name, dst := range lists {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetStringSlice(name)
		if err != nil {
			return err
		}
		*dst = sanitizeTags(value)
	}

	bools := map[string]*bool{
		"skip-long-tool-names": &cfg.SkipLongToolNames,
		"oauth2":               &cfg.OAuth2,
		"strict":               &cfg.Strict,
		"dry-run":              &cfg.DryRun,
		"force":                &cfg.Force,
		"verbose":              &cfg.Verbose,
	}
	for name, dst := range bools {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetBool(name)
		if err != nil {
			return err
		}
		*dst = value
	}

	if flags.Changed("max-tool-name-length") {
		value, err := flags.GetInt("max-tool-name-length")
		if err != nil {
			return err
		}
		cfg.MaxToolNameLength = value
	}

	return nil
}

func (c *GenerateConfig) normalize() {
	c.Input = strings.TrimSpace(c.Input)
	c.Out = strings.TrimSpace(c.Out)
	c.IncludeTools = strings.TrimSpace(c.IncludeTools)
	c.NamePolicy = strings.ToLower(strings.TrimSpace(c.NamePolicy))
	c.Name = strings.TrimSpace(c.Name)
	c.GoModule = strings.TrimSpace(c.GoModule)
	c.Targets = lowerAll(sanitizeTags(c.Targets))
	c.IncludeMethods = lowerAll(sanitizeTags(c.IncludeMethods))
	c.IncludeTags = sanitizeTags(c.IncludeTags)
	c.ExcludeTags = sanitizeTags(c.ExcludeTags)
	c.OAuth2Scopes = sanitizeTags(c.OAuth2Scopes)
	if c.SkipLongToolNames && c.NamePolicy == "" {
		c.NamePolicy = "skip"
	}
}

func (c *GenerateConfig) validate() error {
	if c.Input == "" {
		return newUsageError("generate: --input is required (set via flag or config file)")
	}

	targets := pipeline.Targets()
	for _, name := range c.Targets {
		if _, err := targets.Lookup(name); err != nil {
			return newUsageError(fmt.Sprintf("generate: unsupported --target %q (allowed: %s)", name, strings.Join(targets.Names(), ", ")))
		}
	}
	for _, m := range c.IncludeMethods {
		if _, ok := spec.ParseMethod(m); !ok {
			return newUsageError(fmt.Sprintf("generate: unknown HTTP method %q in --include-methods", m))
		}
	}
	if c.IncludeTools != "" {
		if _, err := regexp.Compile(c.IncludeTools); err != nil {
			return newUsageError(fmt.Sprintf("generate: invalid --include-tools regex: %v", err))
		}
	}

	if c.MaxToolNameLength <= 0 {
		return newUsageError(fmt.Sprintf("generate: --max-tool-name-length must be positive, got %d", c.MaxToolNameLength))
	}
	if _, err := naming.ParsePolicy(c.NamePolicy); err != nil {
		return newUsageError("generate: --name-policy: " + err.Error())
	}
	if c.SkipLongToolNames && c.NamePolicy != "skip" {
		return newUsageError(fmt.Sprintf("generate: --skip-long-tool-names conflicts with --name-policy %s", c.NamePolicy))
	}

	if !c.OAuth2 {
		if c.OAuth2AuthURL != "" || c.OAuth2TokenURL != "" || c.OAuth2RefreshURL != "" || len(c.OAuth2Scopes) > 0 {
			return newUsageError("generate: --oauth2-* options require --oauth2")
		}
	} else if err := c.override().Validate(); err != nil {
		return newUsageError("generate: " + err.Error())
	}

	overlap := intersect(c.IncludeTags, c.ExcludeTags)
	if len(overlap) > 0 {
		return newUsageError(fmt.Sprintf("generate: include/exclude tags overlap: %s", strings.Join(overlap, ", ")))
	}

	return nil
}

func (c *GenerateConfig) override() *security.Override {
	if !c.OAuth2 {
		return nil
	}
	return &security.Override{
		Kind:       spec.OAuth2,
		AuthURL:    c.OAuth2AuthURL,
		TokenURL:   c.OAuth2TokenURL,
		RefreshURL: c.OAuth2RefreshURL,
		Scopes:     c.OAuth2Scopes,
	}
}

func (c *GenerateConfig) pipelineConfig(log *zap.Logger) pipeline.Config {
	policy, _ := naming.ParsePolicy(c.NamePolicy)
	return pipeline.Config{
		Targets:           c.Targets,
		Methods:           c.IncludeMethods,
		ToolPattern:       c.IncludeTools,
		IncludeTags:       c.IncludeTags,
		ExcludeTags:       c.ExcludeTags,
		MaxToolNameLength: c.MaxToolNameLength,
		NamePolicy:        policy,
		Security:          c.override(),
		Strict:            c.Strict,
		Project:           emitter.Project{Name: c.Name, GoModule: c.GoModule},
		Logger:            log,
	}
}

func runGenerate(ctx context.Context, cfg *GenerateConfig) error {
	log := newLogger(cfg.Verbose)
	defer func() { _ = log.Sync() }()

	src, err := spec.ReadSource(ctx, cfg.Input)
	if err != nil {
		return documentError(err)
	}
	log.Debug("read document", zap.String("location", src.Location), zap.Int("bytes", len(src.Data)))

	res, err := pipeline.Run(ctx, src.Data, cfg.pipelineConfig(log))
	if err != nil {
		return documentError(err)
	}

	outDir := cfg.Out
	if outDir == "" {
		outDir = res.Project.Name
	}
	absOut := outDir
	if ap, err := filepath.Abs(outDir); err == nil {
		absOut = ap
	}

	if cfg.DryRun {
		plan := project.NewPlan()
		if err := pipeline.Write(plan, res.Artifacts); err != nil {
			return err
		}
		printPlan(absOut, plan.Files())
		return nil
	}

	w, err := project.NewDirWriter(outDir, cfg.Force)
	if err != nil {
		return wrapOutputError(err, absOut)
	}
	if err := pipeline.Write(w, res.Artifacts); err != nil {
		return wrapOutputError(err, absOut)
	}
	log.Info("wrote project", zap.String("out", w.Root()), zap.Int("files", len(res.Artifacts)))
	return nil
}

func printPlan(outDir string, files []project.PlannedFile) {
	fmt.Fprintf(os.Stdout, "Planned writes to %s (%d files):\n", outDir, len(files))
	for _, f := range files {
		fmt.Fprintf(os.Stdout, "- %s\n", f.RelPath)
	}
}

func wrapOutputError(err error, outDir string) error {
	// Provide clearer guidance for common FS failures.
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "permission") || strings.Contains(lower, "read-only") || strings.Contains(lower, "mkdir") || strings.Contains(lower, "rename") || strings.Contains(lower, "output directory") || strings.Contains(lower, "output path") {
		return newUsageError(fmt.Sprintf("output error for %s: %s\nHint: choose a different --out or use --force when appropriate.", outDir, msg))
	}
	return err
}

func sanitizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func lowerAll(items []string) []string {
	for i, s := range items {
		items[i] = strings.ToLower(s)
	}
	return sanitizeTags(items)
}

func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(a))
	for _, item := range a {
		set[item] = struct{}{}
	}
	var result []string
	for _, item := range b {
		if _, ok := set[item]; ok {
			result = append(result, item)
		}
	}
	return result
}

func applyGenerateConfigFromFile(cfg *GenerateConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return newUsageError(fmt.Sprintf("read config file %q: %v", path, err))
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return newUsageError(fmt.Sprintf("parse config file %q: %v", path, err))
	}

	for key, value := range raw {
		if err := applyConfigField(cfg, normalizeKey(key), value); err != nil {
			if errors.Is(err, errUnknownField) {
				return newUsageError(fmt.Sprintf("config file %q: unknown field %q", path, key))
			}
			return newUsageError(fmt.Sprintf("config field %q: %v", key, err))
		}
	}

	return nil
}

var errUnknownField = errors.New("unknown field")

func applyConfigField(cfg *GenerateConfig, key string, value any) error {
	var err error
	switch key {
	case "input":
		cfg.Input, err = valueAsString(value)
	case "out":
		cfg.Out, err = valueAsString(value)
	case "target", "targets":
		cfg.Targets, err = valueAsStringSlice(value)
	case "includemethods":
		cfg.IncludeMethods, err = valueAsStringSlice(value)
	case "includetools":
		cfg.IncludeTools, err = valueAsString(value)
	case "includetags":
		cfg.IncludeTags, err = valueAsStringSlice(value)
	case "excludetags":
		cfg.ExcludeTags, err = valueAsStringSlice(value)
	case "maxtoolnamelength":
		cfg.MaxToolNameLength, err = valueAsInt(value)
	case "namepolicy":
		cfg.NamePolicy, err = valueAsString(value)
	case "skiplongtoolnames":
		cfg.SkipLongToolNames, err = valueAsBool(value)
	case "oauth2":
		cfg.OAuth2, err = valueAsBool(value)
	case "oauth2authurl":
		cfg.OAuth2AuthURL, err = valueAsString(value)
	case "oauth2tokenurl":
		cfg.OAuth2TokenURL, err = valueAsString(value)
	case "oauth2refreshurl":
		cfg.OAuth2RefreshURL, err = valueAsString(value)
	case "oauth2scopes":
		cfg.OAuth2Scopes, err = valueAsStringSlice(value)
	case "strict":
		cfg.Strict, err = valueAsBool(value)
	case "name":
		cfg.Name, err = valueAsString(value)
	case "gomodule":
		cfg.GoModule, err = valueAsString(value)
	case "dryrun":
		cfg.DryRun, err = valueAsBool(value)
	case "force":
		cfg.Force, err = valueAsBool(value)
	case "verbose":
		cfg.Verbose, err = valueAsBool(value)
	default:
		return errUnknownField
	}
	return err
}

func normalizeKey(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	lowered = strings.ReplaceAll(lowered, "-", "")
	lowered = strings.ReplaceAll(lowered, "_", "")
	return lowered
}

func valueAsString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func valueAsStringSlice(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		return splitAndTrim(val), nil
	case []any:
		items := make([]string, 0, len(val))
		for idx, elem := range val {
			str, err := valueAsString(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", idx, err)
			}
			if str != "" {
				items = append(items, str)
			}
		}
		return items, nil
	default:
		return nil, fmt.Errorf("expected string or list, got %T", v)
	}
}

func valueAsBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		trimmed := strings.ToLower(strings.TrimSpace(val))
		switch trimmed {
		case "true", "t", "1", "yes", "y":
			return true, nil
		case "false", "f", "0", "no", "n":
			return false, nil
		case "":
			return false, nil
		default:
			return false, fmt.Errorf("invalid boolean value %q", val)
		}
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

func valueAsInt(v any) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, fmt.Errorf("invalid integer value %q", val)
		}
		return n, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
