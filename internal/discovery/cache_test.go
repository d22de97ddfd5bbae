package discovery

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloop-dev/taskloop/internal/model"
)

func newRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	return root
}

func TestCache_GetScansOncePerTTL(t *testing.T) {
	t.Parallel()

	root := newRepo(t)
	cache := NewProjectIndexCache(&Scanner{}, t.TempDir(), time.Minute)

	first, err := cache.Get(context.Background(), root)
	require.NoError(t, err)

	second, err := cache.Get(context.Background(), root)
	require.NoError(t, err)

	// Same pointer proves the cached entry was served rather than rescanned.
	assert.Same(t, first, second)
}

func TestCache_ExpiredEntryRecomputed(t *testing.T) {
	t.Parallel()

	root := newRepo(t)
	cache := NewProjectIndexCache(&Scanner{}, t.TempDir(), time.Nanosecond)

	first, err := cache.Get(context.Background(), root)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	second, err := cache.Get(context.Background(), root)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestCache_PersistsGlobalCopy(t *testing.T) {
	t.Parallel()

	root := newRepo(t)
	stateDir := t.TempDir()
	cache := NewProjectIndexCache(&Scanner{}, stateDir, time.Minute)

	_, err := cache.Get(context.Background(), root)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(stateDir, IndexFileName))
	require.NoError(t, err)

	var idx model.ProjectIndex
	require.NoError(t, json.Unmarshal(data, &idx))
	assert.Equal(t, model.ShapeSingleService, idx.Shape)
}

func TestCache_ConcurrentMissesDeduplicated(t *testing.T) {
	t.Parallel()

	root := newRepo(t)
	cache := NewProjectIndexCache(&Scanner{}, t.TempDir(), time.Minute)

	var wg sync.WaitGroup
	results := make([]*model.ProjectIndex, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := cache.Get(context.Background(), root)
			require.NoError(t, err)
			results[i] = idx
		}(i)
	}
	wg.Wait()

	for _, idx := range results[1:] {
		assert.Same(t, results[0], idx)
	}
}

func TestCache_SeedSpecCopy(t *testing.T) {
	t.Parallel()

	root := newRepo(t)
	stateDir := t.TempDir()
	specDir := filepath.Join(stateDir, "specs", "001-demo")
	cache := NewProjectIndexCache(&Scanner{}, stateDir, time.Minute)

	idx, err := cache.SeedSpecCopy(context.Background(), root, specDir)
	require.NoError(t, err)
	require.NotNil(t, idx)

	_, err = os.Stat(filepath.Join(specDir, IndexFileName))
	assert.NoError(t, err)
}

func TestCache_LoadPersistedMalformed(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, IndexFileName), []byte("{not json"), 0o644))

	cache := NewProjectIndexCache(&Scanner{}, stateDir, time.Minute)
	_, err := cache.LoadPersisted()
	assert.Error(t, err)
}

func TestCache_LoadPersistedMissing(t *testing.T) {
	t.Parallel()

	cache := NewProjectIndexCache(&Scanner{}, t.TempDir(), time.Minute)
	idx, err := cache.LoadPersisted()
	require.NoError(t, err)
	assert.Nil(t, idx)
}
