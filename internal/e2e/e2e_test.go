package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/openapi2mcp/internal/cli"
)

// minimal OpenAPI v3 spec with a single endpoint
const pingSpec = "" +
	"openapi: 3.0.0\n" +
	"info:\n" +
	"  title: E2E Sample\n" +
	"  version: '1.0.0'\n" +
	"paths:\n" +
	"  /ping:\n" +
	"    get:\n" +
	"      responses:\n" +
	"        '200':\n" +
	"          description: ok\n"

const petSpec = `openapi: 3.0.3
info: {title: Pets, version: 2.0.0}
servers: [{url: 'https://pets.example.com'}]
paths:
  /pets:
    get:
      operationId: listPets
      tags: [read]
      parameters:
        - {name: limit, in: query, schema: {type: integer}}
      responses: {'200': {description: ok}}
    post:
      operationId: createPet
      requestBody:
        content:
          application/json:
            schema: {$ref: '#/components/schemas/Pet'}
      responses: {'201': {description: created}}
  /pets/{petId}:
    get:
      operationId: getPet
      parameters:
        - {name: petId, in: path, required: true, schema: {type: string}}
      responses: {'200': {description: ok}}
components:
  schemas:
    Pet:
      type: object
      required: [name]
      properties:
        name: {type: string}
        parent: {$ref: '#/components/schemas/Pet'}
        kind:
          oneOf:
            - {type: string}
            - {type: integer}
`

var (
	emptyInput   = regexp.MustCompile(`type Input struct \{\s*\}`)
	objectSchema = regexp.MustCompile(`"type":\s*"object"`)
)

func writeTempSpec(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "spec.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	return p
}

func runCLI(t *testing.T, args ...string) {
	t.Helper()
	root := cli.NewRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("cli execute %v: %v", args, err)
	}
}

func digestDir(t *testing.T, dir string) (files []string, sum string) {
	t.Helper()
	var list []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(dir, path)
		if rerr != nil {
			return rerr
		}
		list = append(list, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", dir, err)
	}
	sort.Strings(list)
	// hash path + contents to be robust
	h := sha256.New()
	for _, rel := range list {
		b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		_, _ = h.Write([]byte(rel))
		_, _ = h.Write(b)
	}
	return list, hex.EncodeToString(h.Sum(nil))
}

func TestE2E_Deterministic(t *testing.T) {
	t.Parallel()
	for _, target := range []string{"ts", "go"} {
		t.Run(target, func(t *testing.T) {
			t.Parallel()
			spec := writeTempSpec(t, petSpec)
			dir1 := t.TempDir()
			dir2 := t.TempDir()

			runCLI(t, "generate", "--input", spec, "--target", target, "--out", dir1, "--force")
			runCLI(t, "generate", "--input", spec, "--target", target, "--out", dir2, "--force")

			files1, sum1 := digestDir(t, dir1)
			files2, sum2 := digestDir(t, dir2)
			if !slicesEqual(files1, files2) || sum1 != sum2 {
				t.Fatalf("generated outputs differ between runs\nfiles1=%v\nfiles2=%v\nsum1=%s\nsum2=%s", files1, files2, sum1, sum2)
			}
			if len(files1) == 0 {
				t.Fatalf("nothing generated")
			}
		})
	}
}

func TestE2E_Ping(t *testing.T) {
	t.Parallel()
	spec := writeTempSpec(t, pingSpec)
	dir := t.TempDir()

	runCLI(t, "generate", "--input", spec, "--out", dir, "--force", "--go-module", "example.com/e2e")

	files, _ := digestDir(t, dir)
	want := []string{
		"src/client.ts",
		"src/constants.ts",
		"src/tools/get_ping.ts",
		"src/tools/index.ts",
		"tools/client/client.go",
		"tools/client/config.go",
		"tools/get_ping/get_ping.go",
		"tools/register.go",
	}
	if !slicesEqual(files, want) {
		t.Fatalf("files mismatch:\n got %v\nwant %v", files, want)
	}

	ts := mustRead(t, filepath.Join(dir, "src/tools/get_ping.ts"))
	for _, s := range []string{`export const name = "get_ping";`, `export const description = "GET /ping";`, "export const inputShape = {};", `method: "GET"`, "path: `/ping`"} {
		if !strings.Contains(ts, s) {
			t.Errorf("get_ping.ts missing %q:\n%s", s, ts)
		}
	}
	goSrc := mustRead(t, filepath.Join(dir, "tools/get_ping/get_ping.go"))
	for _, s := range []string{"package get_ping", `client.NewRequest("GET", "/ping")`} {
		if !strings.Contains(goSrc, s) {
			t.Errorf("get_ping.go missing %q:\n%s", s, goSrc)
		}
	}
	if !emptyInput.MatchString(goSrc) {
		t.Errorf("get_ping.go input is not an empty struct:\n%s", goSrc)
	}
	if !objectSchema.MatchString(goSrc) || strings.Contains(goSrc, `"required"`) {
		t.Errorf("get_ping.go input schema is not an empty object:\n%s", goSrc)
	}

	// Optional: build the Go target if toolchain and network are available
	if os.Getenv("OPENAPI2MCP_E2E_ONLINE") == "1" && haveCmd("go") {
		gomod := "module example.com/e2e\n\ngo 1.24\n"
		if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(gomod), 0o644); err != nil {
			t.Fatalf("write go.mod: %v", err)
		}
		if err := runCmdWithTimeout(dir, 2*time.Minute, "go", "mod", "tidy"); err != nil {
			t.Skipf("go mod tidy skipped (likely offline): %v", err)
		}
		if err := runCmdWithTimeout(dir, 2*time.Minute, "go", "build", "./..."); err != nil {
			t.Fatalf("go build failed: %v", err)
		}
	}
}

func haveCmd(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func runCmdWithTimeout(dir string, timeout time.Duration, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		// include output for diagnostics
		return &execError{err: err, output: out.String()}
	}
	return nil
}

type execError struct {
	err    error
	output string
}

func (e *execError) Error() string { return e.err.Error() + ": " + e.output }

func mustRead(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected file to exist: %s: %v", path, err)
	}
	return string(b)
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
