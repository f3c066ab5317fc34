package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mark3labs/openapi2mcp/internal/project"
)

const defaultConfigFile = "openapi2mcp.yaml"

// InitConfig holds the init command's options.
type InitConfig struct {
	OutputPath string
	Force      bool
}

func newInitCmd() *cobra.Command {
	cfg := InitConfig{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample openapi2mcp configuration file",
		Long: "Write a commented configuration file listing every generate option. " +
			"Pass it back with --config.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			path, err := writeSampleConfig(cfg, newLogger(verbose))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample config to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.OutputPath, "out", defaultConfigFile, "Where to write the sample config file")
	cmd.Flags().BoolVar(&cfg.Force, "force", false, "Overwrite the file if it already exists")
	return cmd
}

// writeSampleConfig places the sample at cfg.OutputPath and returns its
// absolute path. An existing file is only replaced with Force.
func writeSampleConfig(cfg InitConfig, log *zap.Logger) (string, error) {
	out := strings.TrimSpace(cfg.OutputPath)
	if out == "" {
		out = defaultConfigFile
	}
	path, err := filepath.Abs(out)
	if err != nil {
		return "", fmt.Errorf("init: resolve %s: %w", out, err)
	}

	switch st, err := os.Stat(path); {
	case err == nil && st.IsDir():
		return "", newUsageError(fmt.Sprintf("init: %s is a directory", path))
	case err == nil && !cfg.Force:
		return "", newUsageError(fmt.Sprintf("init: %q already exists (use --force to overwrite)", path))
	}

	w, err := project.NewDirWriter(filepath.Dir(path), true)
	if err != nil {
		return "", wrapOutputError(err, filepath.Dir(path))
	}
	if err := w.WriteFile(filepath.Base(path), []byte(strings.TrimSpace(sampleConfigYAML)+"\n")); err != nil {
		return "", wrapOutputError(err, filepath.Dir(path))
	}
	log.Debug("wrote sample config", zap.String("path", path), zap.Bool("replaced", cfg.Force))
	return path, nil
}

// sampleConfigYAML is a commented example config documenting available options.
const sampleConfigYAML = `# openapi2mcp configuration (YAML)
# All fields are optional. Command-line flags override config values.

# Path or URL to the OpenAPI 3.x document (http/https or local file).
# input: ./openapi.yaml

# Output directory. When omitted, derived from name or the document title.
# out: ./out

# Targets to emit (ts, go). Both when omitted.
# target: [ts, go]

# Only include operations with these HTTP methods.
# includeMethods: [get, post]

# Only include operations whose operationId (or path) matches this regex.
# includeTools: ^(list|get)

# Only include / exclude operations with these tags (comma-separated or list).
# includeTags: [public]
# excludeTags: [internal]

# Tool name limit and what to do with longer names (error|skip|truncate).
# maxToolNameLength: 64
# namePolicy: error
# skipLongToolNames: false

# Authenticate generated tools with OAuth2 instead of the declared scheme.
# oauth2: false
# oauth2AuthUrl: https://auth.example.com/authorize
# oauth2TokenUrl: https://auth.example.com/token
# oauth2RefreshUrl: https://auth.example.com/refresh
# oauth2Scopes: [read, write]

# Fail when the document does not pass OpenAPI validation.
# strict: false

# Project name and Go module path of the generated project.
# name: pet-store
# goModule: example.com/pet-store

# Preview planned outputs without writing files.
# dryRun: false

# Write into a non-empty output directory.
# force: false

# Enable verbose logging.
# verbose: false
`
