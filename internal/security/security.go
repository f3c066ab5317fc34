// Package security folds the authentication declared by the emitted tools,
// or a run-level override, into one project configuration.
package security

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mark3labs/openapi2mcp/internal/spec"
	"github.com/mark3labs/openapi2mcp/internal/tool"
)

// Source records where a Config came from.
type Source string

const (
	FromOverride Source = "override"
	FromDeclared Source = "declared"
	None         Source = "none"
)

// Override forces an authentication kind regardless of what the document
// declares.
type Override struct {
	Kind       spec.SchemeKind
	In         string // apiKey
	ParamName  string // apiKey
	AuthURL    string
	TokenURL   string
	RefreshURL string
	Scopes     []string
}

func (o *Override) Validate() error {
	switch o.Kind {
	case spec.OAuth2:
		if err := absoluteURL("authorization", o.AuthURL, true); err != nil {
			return err
		}
		if err := absoluteURL("token", o.TokenURL, true); err != nil {
			return err
		}
		return absoluteURL("refresh", o.RefreshURL, false)
	case spec.APIKey:
		switch o.In {
		case "header", "query", "cookie":
		default:
			return fmt.Errorf("security: apiKey override needs a location of header, query or cookie, got %q", o.In)
		}
		if strings.TrimSpace(o.ParamName) == "" {
			return fmt.Errorf("security: apiKey override needs a parameter name")
		}
		return nil
	case spec.HTTPBearer, spec.HTTPBasic:
		return nil
	default:
		return fmt.Errorf("security: unsupported override kind %q", o.Kind)
	}
}

func absoluteURL(what, raw string, required bool) error {
	if strings.TrimSpace(raw) == "" {
		if required {
			return fmt.Errorf("security: oauth2 override needs an %s URL", what)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("security: oauth2 %s URL %q must be absolute", what, raw)
	}
	return nil
}

// Config is the project-level authentication fragment.
type Config struct {
	Kind             spec.SchemeKind // empty when Source is None
	SchemeName       string
	In               string
	ParamName        string
	BearerFormat     string
	AuthURL          string
	TokenURL         string
	RefreshURL       string
	OpenIDConnectURL string
	Scopes           []string
	Source           Source
}

func (c Config) Enabled() bool { return c.Source != None && c.Kind != "" }

// Declared lists the distinct schemes required by tools, in tool order.
func Declared(tools []*tool.Tool) []spec.SecurityRequirement {
	var out []spec.SecurityRequirement
	seen := map[string]bool{}
	for _, t := range tools {
		for _, req := range t.Operation.Security {
			if seen[req.Scheme.Name] {
				continue
			}
			seen[req.Scheme.Name] = true
			out = append(out, req)
		}
	}
	return out
}

// Inject resolves the project configuration. An override wins; the scheme
// name and scopes then come from the first declared scheme of the same kind.
// Without an override the first scheme encountered in tool order is used.
func Inject(tools []*tool.Tool, override *Override) (Config, error) {
	declared := Declared(tools)
	if override != nil {
		if err := override.Validate(); err != nil {
			return Config{}, err
		}
		cfg := Config{
			Kind:       override.Kind,
			In:         override.In,
			ParamName:  override.ParamName,
			AuthURL:    override.AuthURL,
			TokenURL:   override.TokenURL,
			RefreshURL: override.RefreshURL,
			Scopes:     append([]string(nil), override.Scopes...),
			Source:     FromOverride,
		}
		for _, req := range declared {
			if req.Scheme.Kind != override.Kind {
				continue
			}
			cfg.SchemeName = req.Scheme.Name
			cfg.BearerFormat = req.Scheme.BearerFormat
			if len(cfg.Scopes) == 0 {
				cfg.Scopes = scopes(req)
			}
			break
		}
		return cfg, nil
	}

	if len(declared) == 0 {
		return Config{Source: None}, nil
	}
	req := declared[0]
	s := req.Scheme
	return Config{
		Kind:             s.Kind,
		SchemeName:       s.Name,
		In:               s.In,
		ParamName:        s.ParamName,
		BearerFormat:     s.BearerFormat,
		AuthURL:          s.AuthURL,
		TokenURL:         s.TokenURL,
		RefreshURL:       s.RefreshURL,
		OpenIDConnectURL: s.OpenIDConnectURL,
		Scopes:           scopes(req),
		Source:           FromDeclared,
	}, nil
}

// scopes prefers the scopes the requirement asks for over everything the
// scheme offers.
func scopes(req spec.SecurityRequirement) []string {
	if len(req.Scopes) > 0 {
		return append([]string(nil), req.Scopes...)
	}
	return append([]string(nil), req.Scheme.Scopes...)
}
