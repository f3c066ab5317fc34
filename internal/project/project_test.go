package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirWriter_WritesAtomically(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := NewDirWriter(dir, false)
	require.NoError(t, err)
	require.NoError(t, w.WriteFile("src/tools/get_ping.ts", []byte("export {};\n")))

	got, err := os.ReadFile(filepath.Join(dir, "src", "tools", "get_ping.ts"))
	require.NoError(t, err)
	assert.Equal(t, "export {};\n", string(got))

	entries, err := os.ReadDir(filepath.Join(dir, "src", "tools"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestDirWriter_RefusesNonEmptyWithoutForce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("x"), 0o600))

	_, err := NewDirWriter(dir, false)
	assert.ErrorContains(t, err, "not empty")

	_, err = NewDirWriter(dir, true)
	assert.NoError(t, err)
}

func TestDirWriter_RefusesEscapes(t *testing.T) {
	t.Parallel()
	w, err := NewDirWriter(t.TempDir(), false)
	require.NoError(t, err)
	for _, rel := range []string{"../evil.go", "/etc/passwd", "a/../../b", ""} {
		assert.Error(t, w.WriteFile(rel, nil), rel)
	}
}

func TestPlan_SortedFiles(t *testing.T) {
	t.Parallel()
	p := NewPlan()
	require.NoError(t, p.WriteFile("b.txt", []byte("bb")))
	require.NoError(t, p.WriteFile("a/c.txt", []byte("c")))
	assert.Equal(t, []PlannedFile{
		{RelPath: "a/c.txt", Size: 1, Mode: 0o644},
		{RelPath: "b.txt", Size: 2, Mode: 0o644},
	}, p.Files())
	content, ok := p.Content("b.txt")
	require.True(t, ok)
	assert.Equal(t, "bb", string(content))
}

func TestApplyFeatures(t *testing.T) {
	t.Parallel()
	tmpl := `export const API_BASE_URL = "https://api.example.com";
// START_OF Features.Auth
// export const AUTH_KIND = "oauth2";
//   export const NESTED = 1;
// END_OF Features.Auth
// START_OF Features.Telemetry
// export const TRACE = true;
// END_OF Features.Telemetry
`
	got, err := ApplyFeatures(tmpl, map[string]bool{"Auth": true})
	require.NoError(t, err)
	assert.Equal(t, `export const API_BASE_URL = "https://api.example.com";
export const AUTH_KIND = "oauth2";
  export const NESTED = 1;
`, got)
}

func TestApplyFeatures_Unbalanced(t *testing.T) {
	t.Parallel()
	_, err := ApplyFeatures("// START_OF Features.Auth\nx\n", nil)
	assert.ErrorContains(t, err, "never closed")
	_, err = ApplyFeatures("// END_OF Features.Auth\n", nil)
	assert.ErrorContains(t, err, "without matching")
	_, err = ApplyFeatures("// START_OF Features.A\n// START_OF Features.B\n", nil)
	assert.ErrorContains(t, err, "opened inside")
}
