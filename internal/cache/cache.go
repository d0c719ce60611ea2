// Package cache stores embedding vectors keyed by (text, model) and persists them to a
// single local file so that each pair is computed by the embedding source at most once.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/chosei/pkg/utils"
)

// Key identifies a cached embedding. Two keys are equal when both text and model match.
type Key struct {
	Text  string
	Model string
}

// Source computes an embedding for text with the given model.
type Source interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// Cache is a persistent (text, model) → vector map. Stored vectors are shared with
// callers and must not be modified.
type Cache struct {
	mu      sync.Mutex
	entries map[Key][]float32

	path       string
	remoteURL  string
	source     Source
	httpClient *http.Client
	logger     *zap.Logger
	group      singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for cache events.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRemote sets the URL of a snapshot to fetch when the local file does not exist.
func WithRemote(url string) Option {
	return func(c *Cache) {
		c.remoteURL = url
	}
}

// WithHTTPClient sets the client used to fetch the remote snapshot.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// Open loads the cache file at path. When the file does not exist and a remote URL is
// configured, the snapshot is fetched from it and written to path; a failed fetch is an
// error. Without a remote URL a missing file yields an empty cache.
func Open(ctx context.Context, path string, source Source, opts ...Option) (*Cache, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if source == nil {
		return nil, fmt.Errorf("embedding source is required")
	}
	c := &Cache{
		entries:    make(map[Key][]float32),
		path:       path,
		source:     source,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	entries, err := readFile(path)
	switch {
	case err == nil:
		c.entries = entries
		c.logger.Debug("loaded embedding cache", zap.String("path", path), zap.Int("entries", len(entries)))
	case errors.Is(err, os.ErrNotExist):
		if c.remoteURL == "" {
			c.logger.Warn("no embedding cache found and no remote snapshot configured, starting empty",
				zap.String("path", path))
			break
		}
		entries, err := fetchSnapshot(ctx, c.httpClient, c.remoteURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch cache snapshot from %s: %w", c.remoteURL, err)
		}
		c.entries = entries
		if err := writeFile(path, entries); err != nil {
			return nil, err
		}
		c.logger.Info("fetched embedding cache snapshot",
			zap.String("url", c.remoteURL), zap.Int("entries", len(entries)))
	default:
		return nil, err
	}
	return c, nil
}

// Get returns the embedding of text under model. On a miss the source is called once,
// the result is stored and the whole cache is persisted before returning.
func (c *Cache) Get(ctx context.Context, text, model string) ([]float32, error) {
	return c.get(ctx, Key{Text: text, Model: model}, true)
}

func (c *Cache) get(ctx context.Context, key Key, persist bool) ([]float32, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key.Model+"\x00"+key.Text, func() (interface{}, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := c.source.Embed(ctx, key.Text, key.Model)
		if err != nil {
			return nil, fmt.Errorf("embed %q with %s: %w", utils.Truncate(key.Text, 40), key.Model, err)
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		c.entries[key] = v
		if persist {
			if err := writeFile(c.path, c.entries); err != nil {
				delete(c.entries, key)
				return nil, err
			}
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (c *Cache) lookup(key Key) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// Contains reports whether key is cached.
func (c *Cache) Contains(key Key) bool {
	_, ok := c.lookup(key)
	return ok
}

// Flush writes the cache to disk.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeFile(c.path, c.entries)
}

// Len returns the number of cached embeddings.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Path returns the cache file path.
func (c *Cache) Path() string {
	return c.path
}

// Models returns the number of cached embeddings per model.
func (c *Cache) Models() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int)
	for k := range c.entries {
		out[k.Model]++
	}
	return out
}

// Keys returns every cached key ordered by model, then text.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sortKeys(keys)
	return keys
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Model != keys[j].Model {
			return keys[i].Model < keys[j].Model
		}
		return keys[i].Text < keys[j].Text
	})
}
