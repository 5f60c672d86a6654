package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalogFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFileSourceLoad(t *testing.T) {
	path := writeCatalogFile(t, t.TempDir(), mappingJSON)

	src := NewFileSource(path, nil)
	idx, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
}

func TestFileSourceLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", `{not json`},
		{"empty array", `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCatalogFile(t, t.TempDir(), tt.content)
			src := NewFileSource(path, nil)
			_, err := src.Load(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestFileSourceLoadMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "nope.json"), nil)
	_, err := src.Load(context.Background())
	assert.Error(t, err)
}

func TestFileSourceWatchDeliversReload(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalogFile(t, dir, mappingJSON)

	src := NewFileSource(path, nil)
	defer src.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Watch(ctx))

	// Rewrite with one more item.
	updated := `[
		{"id": 1, "name": "Dragon platebody", "value": 1500000, "limit": 70},
		{"id": 2, "name": "Saradomin brew(4)", "value": 120000, "limit": 2000},
		{"id": 3, "name": "Zulrah's scales", "value": 200, "limit": 30000}
	]`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	select {
	case idx := <-src.Updates():
		assert.Equal(t, 3, idx.Len())
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for catalog reload")
	}
}

func TestFileSourceWatchSkipsBadRewrite(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalogFile(t, dir, mappingJSON)

	src := NewFileSource(path, nil)
	defer src.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0644))

	select {
	case idx := <-src.Updates():
		t.Fatalf("broken rewrite produced a snapshot: %d items", idx.Len())
	case <-time.After(500 * time.Millisecond):
	}
}

func TestFileSourceStopIsIdempotent(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "catalog.json"), nil)
	src.Stop()
	src.Stop()
}
