package spec

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Finding is one problem reported by the strict OpenAPI validator.
type Finding struct {
	Message string
	Pointer string
}

// Validate runs kin-openapi's loader and validator over the raw document.
// External references are not followed. The generator itself only needs a
// structurally sound document, so findings are advisory unless the caller
// asks for strict mode.
func Validate(ctx context.Context, data []byte) []Finding {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	loader.Context = ctx
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return findings(err)
	}
	if err := doc.Validate(ctx); err != nil {
		return findings(err)
	}
	return nil
}

func findings(err error) []Finding {
	var me openapi3.MultiError
	if errors.As(err, &me) {
		var out []Finding
		for _, e := range me {
			out = append(out, findings(e)...)
		}
		return out
	}
	return []Finding{{Message: err.Error(), Pointer: extractJSONPointer(err)}}
}

var jsonPtrRe = regexp.MustCompile(`#/[^\s'"]+`)

func extractJSONPointer(err error) string {
	if err == nil {
		return ""
	}
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		// v0.116 uses JSONPointer() []string
		if parts := se.JSONPointer(); len(parts) > 0 {
			return "#/" + strings.Join(parts, "/")
		}
		if se.SchemaField != "" {
			return se.SchemaField
		}
	}
	// Fallback: parse from error message if a pointer literal appears.
	if m := jsonPtrRe.FindString(err.Error()); m != "" {
		return m
	}
	return ""
}
