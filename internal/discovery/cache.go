package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/singleflight"

	"github.com/taskloop-dev/taskloop/internal/model"
)

// IndexFileName is the on-disk name of a persisted project index, both for
// the global cache and per-spec copies.
const IndexFileName = "project_index.json"

// cacheEntry is one in-memory index with its insertion time.
type cacheEntry struct {
	index    *model.ProjectIndex
	cachedAt time.Time
}

// ProjectIndexCache serves ProjectIndex lookups with an in-memory TTL
// cache, a persisted global copy under the state directory, and
// singleflight deduplication so concurrent misses for the same root trigger
// exactly one scan. It is an explicit service with a documented lifecycle,
// passed to whoever needs it.
type ProjectIndexCache struct {
	scanner  *Scanner
	stateDir string
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

// NewProjectIndexCache builds a cache persisting its global copy under
// stateDir. ttl <= 0 defaults to 300 seconds.
func NewProjectIndexCache(scanner *Scanner, stateDir string, ttl time.Duration) *ProjectIndexCache {
	if scanner == nil {
		scanner = &Scanner{}
	}
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &ProjectIndexCache{
		scanner:  scanner,
		stateDir: stateDir,
		ttl:      ttl,
		entries:  map[string]cacheEntry{},
	}
}

// Get returns the index for root, recomputing when the in-memory entry is
// missing or older than the TTL. A fresh scan is persisted to the global
// cache file with an atomic write-then-rename.
func (c *ProjectIndexCache) Get(ctx context.Context, root string) (*model.ProjectIndex, error) {
	c.mu.Lock()
	if entry, ok := c.entries[root]; ok && time.Since(entry.cachedAt) < c.ttl {
		c.mu.Unlock()
		return entry.index, nil
	}
	c.mu.Unlock()

	result, err, _ := c.group.Do(root, func() (any, error) {
		idx, err := c.scanner.Scan(ctx, root)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[root] = cacheEntry{index: idx, cachedAt: time.Now()}
		c.mu.Unlock()
		if err := c.persist(idx); err != nil {
			return nil, err
		}
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.ProjectIndex), nil
}

// GlobalPath is where the shared on-disk copy lives.
func (c *ProjectIndexCache) GlobalPath() string {
	return filepath.Join(c.stateDir, IndexFileName)
}

func (c *ProjectIndexCache) persist(idx *model.ProjectIndex) error {
	if err := os.MkdirAll(c.stateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling project index: %w", err)
	}
	return renameio.WriteFile(c.GlobalPath(), data, 0o644)
}

// LoadPersisted reads the global on-disk copy, if any. A missing file
// returns (nil, nil); a malformed file is an error, never a partial index.
func (c *ProjectIndexCache) LoadPersisted() (*model.ProjectIndex, error) {
	data, err := os.ReadFile(c.GlobalPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading project index cache: %w", err)
	}
	var idx model.ProjectIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing project index cache: %w", err)
	}
	return &idx, nil
}

// SeedSpecCopy writes a spec-local copy of the index into specDir, seeding
// it from the global cache when available so a spec run does not trigger a
// rescan.
func (c *ProjectIndexCache) SeedSpecCopy(ctx context.Context, root, specDir string) (*model.ProjectIndex, error) {
	idx, err := c.LoadPersisted()
	if err != nil || idx == nil {
		idx, err = c.Get(ctx, root)
		if err != nil {
			return nil, err
		}
	}
	data, marshalErr := json.MarshalIndent(idx, "", "  ")
	if marshalErr != nil {
		return nil, fmt.Errorf("marshaling project index: %w", marshalErr)
	}
	if err := os.MkdirAll(specDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spec dir: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(specDir, IndexFileName), data, 0o644); err != nil {
		return nil, fmt.Errorf("writing spec index copy: %w", err)
	}
	return idx, nil
}
