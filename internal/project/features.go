package project

import (
	"bufio"
	"fmt"
	"strings"
)

const (
	startMarker = "// START_OF Features."
	endMarker   = "// END_OF Features."
)

// ApplyFeatures resolves feature blocks in template content:
//
//	// START_OF Features.Auth
//	// export const AUTH_KIND = "oauth2";
//	// END_OF Features.Auth
//
// Lines of an enabled block are uncommented once; disabled blocks are
// dropped. Marker lines never survive. Blocks do not nest.
func ApplyFeatures(content string, enabled map[string]bool) (string, error) {
	var (
		out     strings.Builder
		current string
		lineNo  int
		started int
	)
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, startMarker):
			if current != "" {
				return "", fmt.Errorf("project: line %d: feature block %q opened inside %q", lineNo, featureName(trimmed, startMarker), current)
			}
			current, started = featureName(trimmed, startMarker), lineNo
			continue
		case strings.HasPrefix(trimmed, endMarker):
			name := featureName(trimmed, endMarker)
			if current == "" || name != current {
				return "", fmt.Errorf("project: line %d: END_OF Features.%s without matching START_OF", lineNo, name)
			}
			current = ""
			continue
		}
		if current != "" {
			if !enabled[current] {
				continue
			}
			line = uncomment(line)
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if current != "" {
		return "", fmt.Errorf("project: line %d: feature block %q is never closed", started, current)
	}
	return out.String(), nil
}

func featureName(line, marker string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, marker))
}

// uncomment removes the first "// " (or "//") after the indentation.
func uncomment(line string) string {
	indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	rest := line[len(indent):]
	switch {
	case strings.HasPrefix(rest, "// "):
		return indent + rest[3:]
	case strings.HasPrefix(rest, "//"):
		return indent + rest[2:]
	default:
		return line
	}
}
