// Package project places generated artifacts. The generator only ever hands
// over a relative path and content; where and how the bytes land is up to
// the Writer.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Writer writes one generated file at a slash-separated relative path.
type Writer interface {
	WriteFile(rel string, content []byte) error
}

// PlannedFile describes a file that was (or would be) written.
type PlannedFile struct {
	RelPath string
	Size    int
	Mode    os.FileMode
}

// DirWriter writes files below a root directory using temp file + rename.
type DirWriter struct {
	root string
}

// NewDirWriter prepares root. Unless force is set, an existing non-empty
// root is refused so a run never mixes with unrelated files.
func NewDirWriter(root string, force bool) (*DirWriter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve out dir: %w", err)
	}
	if st, err := os.Stat(abs); err == nil {
		if !st.IsDir() {
			return nil, fmt.Errorf("project: output path %q is not a directory", abs)
		}
		if !force {
			entries, rerr := os.ReadDir(abs)
			if rerr == nil && len(entries) > 0 {
				return nil, fmt.Errorf("project: output directory %q is not empty (use --force to overwrite)", abs)
			}
		}
	}
	return &DirWriter{root: abs}, nil
}

func (w *DirWriter) Root() string { return w.root }

func (w *DirWriter) WriteFile(rel string, content []byte) error {
	p, err := w.path(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write temp %s: %w", rel, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp %s: %w", rel, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", rel, err)
	}
	return nil
}

// path maps rel below the root, refusing anything that would escape it.
func (w *DirWriter) path(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if rel == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("project: refusing to write %q outside %s", rel, w.root)
	}
	return filepath.Join(w.root, clean), nil
}

// Plan records writes in memory. It backs dry runs and tests.
type Plan struct {
	files map[string][]byte
}

func NewPlan() *Plan { return &Plan{files: map[string][]byte{}} }

func (p *Plan) WriteFile(rel string, content []byte) error {
	p.files[filepath.ToSlash(rel)] = append([]byte(nil), content...)
	return nil
}

// Files returns the planned files sorted by path.
func (p *Plan) Files() []PlannedFile {
	rels := make([]string, 0, len(p.files))
	for rel := range p.files {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	out := make([]PlannedFile, 0, len(rels))
	for _, rel := range rels {
		out = append(out, PlannedFile{RelPath: rel, Size: len(p.files[rel]), Mode: 0o644})
	}
	return out
}

// Content returns what was planned at rel.
func (p *Plan) Content(rel string) ([]byte, bool) {
	c, ok := p.files[rel]
	return c, ok
}
