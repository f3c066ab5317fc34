package spec

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSource_BlocksFileURL(t *testing.T) {
	t.Parallel()
	_, err := ReadSource(context.Background(), "file:///etc/hosts")
	require.Error(t, err)
	assert.True(t, errors.Is(err, InputError), "got %v", err)
}

func TestReadSource_UnsupportedScheme(t *testing.T) {
	t.Parallel()
	_, err := ReadSource(context.Background(), "ftp://example.com/spec.yaml")
	require.Error(t, err)
	assert.True(t, errors.Is(err, InputError), "got %v", err)
}

func TestReadSource_NetworkError(t *testing.T) {
	t.Parallel()
	// Unused port to provoke a quick network failure.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ReadSource(ctx, "http://127.0.0.1:1/spec.yaml",
		WithHTTPTimeout(200*time.Millisecond), WithMaxRetries(2), WithBackoffBase(10*time.Millisecond))
	require.Error(t, err)
	assert.True(t, errors.Is(err, NetworkError), "got %v", err)
}

func TestReadSource_RetriesTransientFailures(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("openapi: 3.0.3\n"))
	}))
	defer srv.Close()

	src, err := ReadSource(context.Background(), srv.URL+"/spec.yaml", WithBackoffBase(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "openapi: 3.0.3\n", string(src.Data))
	assert.Equal(t, int32(2), calls.Load())
}

func TestReadSource_ClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := ReadSource(context.Background(), srv.URL, WithBackoffBase(time.Millisecond))
	require.Error(t, err)
	assert.True(t, errors.Is(err, NetworkError))
	assert.Contains(t, err.Error(), "http 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestReadSource_LocalFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte("openapi: 3.1.0\n"), 0o600))

	src, err := ReadSource(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, src.Location)

	_, err = ReadSource(context.Background(), filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.Is(err, InputError))
}
