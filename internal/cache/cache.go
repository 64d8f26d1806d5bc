// Package cache memoizes parsed policy files keyed by path and validated
// by a fingerprint of the file on every access.
package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"

	"github.com/yamonco/ward/internal/policy"
)

// Mode selects how a file is fingerprinted.
type Mode string

const (
	// ModeContent hashes the file bytes with BLAKE3.
	ModeContent Mode = "content"
	// ModeMtime uses modification time and size. A hit skips reading the
	// file at all, at the price of missing same-size edits within the
	// filesystem's timestamp resolution.
	ModeMtime Mode = "mtime"
)

// DefaultSize is the number of parsed files kept.
const DefaultSize = 256

// Lookup outcomes reported to an Observer.
const (
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeStale = "stale"
)

// Fingerprint identifies one version of a policy file.
type Fingerprint string

// ContentFingerprint hashes data.
func ContentFingerprint(data []byte) Fingerprint {
	sum := blake3.Sum256(data)
	return Fingerprint("b3:" + hex.EncodeToString(sum[:]))
}

// MtimeFingerprint derives a fingerprint from file metadata.
func MtimeFingerprint(info fs.FileInfo) Fingerprint {
	return Fingerprint("mt:" + strconv.FormatInt(info.ModTime().UnixNano(), 10) + ":" + strconv.FormatInt(info.Size(), 10))
}

// Observer receives lookup outcomes.
type Observer interface {
	ObserveCacheLookup(outcome string)
}

type entry struct {
	fp         Fingerprint
	directives *policy.Directives
}

// Cache is safe for concurrent use. It implements discover.Loader.
type Cache struct {
	entries  *lru.Cache[string, entry]
	mode     Mode
	logger   *slog.Logger
	observer Observer

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchDirs   map[string]struct{}
	watchWg     sync.WaitGroup
	watchCancel func()
}

// Option configures a Cache.
type Option func(*Cache)

// WithMode sets the fingerprint mode.
func WithMode(m Mode) Option {
	return func(c *Cache) { c.mode = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithObserver reports lookup outcomes to o.
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// New creates a cache holding up to size parsed files.
func New(size int, opts ...Option) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c := &Cache{
		entries: entries,
		mode:    ModeContent,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	switch c.mode {
	case ModeContent, ModeMtime:
	default:
		return nil, fmt.Errorf("unknown fingerprint mode %q", c.mode)
	}
	return c, nil
}

// GetOrParse returns the cached directives for path when fp matches the
// stored fingerprint. Otherwise it reads the content, parses it and
// replaces the entry.
func (c *Cache) GetOrParse(path string, fp Fingerprint, read func() ([]byte, error)) (*policy.Directives, error) {
	cached, ok := c.entries.Get(path)
	if ok && cached.fp == fp {
		c.observe(OutcomeHit)
		return cached.directives, nil
	}

	data, err := read()
	if err != nil {
		c.entries.Remove(path)
		return nil, err
	}
	d := policy.Parse(data)
	c.entries.Add(path, entry{fp: fp, directives: d})

	if ok {
		c.observe(OutcomeStale)
		c.logger.Debug("policy file changed, reparsed", "file", path)
	} else {
		c.observe(OutcomeMiss)
	}
	return d, nil
}

// Load fingerprints the file at path and returns its directives.
func (c *Cache) Load(path string) (*policy.Directives, error) {
	d, err := c.load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.entries.Remove(path)
		}
		return nil, err
	}
	c.watchFile(path)
	return d, nil
}

func (c *Cache) load(path string) (*policy.Directives, error) {
	if c.mode == ModeMtime {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		return c.GetOrParse(path, MtimeFingerprint(info), func() ([]byte, error) {
			return os.ReadFile(path)
		})
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return c.GetOrParse(path, ContentFingerprint(data), func() ([]byte, error) {
		return data, nil
	})
}

// Invalidate drops the entry for path.
func (c *Cache) Invalidate(path string) {
	if c.entries.Remove(path) {
		c.logger.Debug("policy cache entry evicted", "file", path)
	}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Len returns the number of cached files.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) observe(outcome string) {
	if c.observer != nil {
		c.observer.ObserveCacheLookup(outcome)
	}
}
