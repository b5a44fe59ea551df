// Package cachestore manages the on-disk mirror of received stream bytes.
// Completed downloads can replace the network on a later play of the same
// URL. Interrupted downloads are always deleted, never kept incomplete.
package cachestore

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/tphakala/audiostream-go/internal/errors"
	"github.com/tphakala/audiostream-go/internal/logging"
)

const (
	cacheSuffix  = ".cache"
	markerSuffix = ".done"
)

// Record associates a source URL key with a local file and its completeness.
type Record struct {
	Key         string
	Path        string
	Size        int64
	ContentType string
	CompletedAt time.Time
}

// Store is the disk cache. All operations are safe for concurrent use.
type Store struct {
	dir     string
	maxSize int64

	// index holds completed records only, keyed by URL hash
	index *gocache.Cache

	mu      sync.Mutex // serializes size accounting and eviction
	onEvict func(Record)
	logger  *slog.Logger
}

// SetEvictionObserver registers a callback invoked for every record evicted
// by the size policy. Set once, before concurrent use.
func (s *Store) SetEvictionObserver(fn func(Record)) {
	s.onEvict = fn
}

// Handle is an open cache file receiving bytes for one download session.
type Handle struct {
	store   *Store
	key     string
	tmpPath string
	f       *os.File
	size    int64
	closed  bool
}

// urlKey derives the stable file name key for a URL.
func urlKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// New opens the cache directory, rebuilding the record index from the files
// found there. Partial files left over from interrupted downloads are
// removed.
func New(dir string, maxSize int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(err).
			Component("cachestore").
			Category(errors.CategoryCacheIO).
			Context("directory", dir).
			Build()
	}

	s := &Store{
		dir:     dir,
		maxSize: maxSize,
		index:   gocache.New(gocache.NoExpiration, 0),
		logger:  logging.ForService("cachestore"),
	}

	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

// scan rebuilds the index from the cache directory contents.
func (s *Store) scan() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.New(err).
			Component("cachestore").
			Category(errors.CategoryCacheIO).
			Context("directory", s.dir).
			Build()
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(s.dir, name)

		switch {
		case strings.Contains(name, cacheSuffix+"."):
			// temp file from an interrupted session
			s.logger.Debug("removing stale temp file", "path", path)
			_ = os.Remove(path)
		case strings.HasSuffix(name, cacheSuffix):
			key := strings.TrimSuffix(name, cacheSuffix)
			marker := filepath.Join(s.dir, key+markerSuffix)
			markerInfo, markerErr := os.Stat(marker)
			info, infoErr := entry.Info()
			if markerErr != nil || infoErr != nil {
				// no completion marker: the download never finished
				s.logger.Debug("removing incomplete cache file", "path", path)
				_ = os.Remove(path)
				_ = os.Remove(marker)
				continue
			}
			contentType, _ := os.ReadFile(marker)
			s.index.Set(key, &Record{
				Key:         key,
				Path:        path,
				Size:        info.Size(),
				ContentType: strings.TrimSpace(string(contentType)),
				CompletedAt: markerInfo.ModTime(),
			}, gocache.NoExpiration)
		}
	}
	return nil
}

// BeginCaching opens a new cache file for the given URL. Any previous record
// for the same URL is invalidated first. Errors are cache I/O failures that
// callers treat as non-fatal: playback proceeds without caching.
func (s *Store) BeginCaching(url string) (*Handle, error) {
	key := urlKey(url)
	s.invalidate(key)

	tmpPath := filepath.Join(s.dir, fmt.Sprintf("%s%s.%s", key, cacheSuffix, uuid.NewString()))
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.New(err).
			Component("cachestore").
			Category(errors.CategoryCacheIO).
			Context("url", url).
			Build()
	}

	return &Handle{store: s, key: key, tmpPath: tmpPath, f: f}, nil
}

// Append writes received bytes to the cache file. Before a write that would
// push the total cache size past the configured maximum, the least recently
// completed records are evicted.
func (h *Handle) Append(p []byte) error {
	if h.closed {
		return errors.Newf("append on closed cache handle").
			Component("cachestore").
			Category(errors.CategoryState).
			Build()
	}

	h.store.ensureCapacity(h.size + int64(len(p)))

	n, err := h.f.Write(p)
	h.size += int64(n)
	if err != nil {
		return errors.New(err).
			Component("cachestore").
			Category(errors.CategoryCacheIO).
			Context("path", h.tmpPath).
			Build()
	}
	return nil
}

// MarkComplete promotes the download to a complete, readable cache record.
// The content type is stored in the completion marker so a later cache-hit
// playback can pick the right decoder.
func (h *Handle) MarkComplete(contentType string) error {
	if h.closed {
		return nil
	}
	h.closed = true

	if err := h.f.Close(); err != nil {
		_ = os.Remove(h.tmpPath)
		return errors.New(err).Component("cachestore").Category(errors.CategoryCacheIO).Build()
	}

	finalPath := filepath.Join(h.store.dir, h.key+cacheSuffix)
	if err := os.Rename(h.tmpPath, finalPath); err != nil {
		_ = os.Remove(h.tmpPath)
		return errors.New(err).Component("cachestore").Category(errors.CategoryCacheIO).Build()
	}

	marker := filepath.Join(h.store.dir, h.key+markerSuffix)
	if err := os.WriteFile(marker, []byte(contentType), 0o644); err != nil {
		_ = os.Remove(finalPath)
		return errors.New(err).Component("cachestore").Category(errors.CategoryCacheIO).Build()
	}

	h.store.index.Set(h.key, &Record{
		Key:         h.key,
		Path:        finalPath,
		Size:        h.size,
		ContentType: contentType,
		CompletedAt: time.Now(),
	}, gocache.NoExpiration)

	h.store.logger.Debug("cache record completed", "key", h.key, "size", h.size)
	return nil
}

// Abort discards the partial download, leaving no file behind.
func (h *Handle) Abort() {
	if h.closed {
		return
	}
	h.closed = true
	_ = h.f.Close()
	_ = os.Remove(h.tmpPath)
}

// Size returns the number of bytes written so far.
func (h *Handle) Size() int64 {
	return h.size
}

// IsCached reports whether a complete local copy of the URL exists.
// Partially downloaded files are never reported as cached.
func (s *Store) IsCached(url string) bool {
	_, found := s.index.Get(urlKey(url))
	return found
}

// OpenForRead opens the complete cache record for the URL, or returns
// found=false when no complete record exists. The returned reader is an
// *os.File and supports seeking.
func (s *Store) OpenForRead(url string) (r io.ReadSeekCloser, rec Record, found bool) {
	v, ok := s.index.Get(urlKey(url))
	if !ok {
		return nil, Record{}, false
	}
	record := v.(*Record)
	f, err := os.Open(record.Path)
	if err != nil {
		// file vanished behind our back, drop the record
		s.invalidate(record.Key)
		return nil, Record{}, false
	}
	return f, *record, true
}

// Records returns the complete cache records, most recently completed first.
func (s *Store) Records() []Record {
	items := s.index.Items()
	records := make([]Record, 0, len(items))
	for _, item := range items {
		records = append(records, *(item.Object.(*Record)))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CompletedAt.After(records[j].CompletedAt)
	})
	return records
}

// TotalSize returns the combined size of all complete records.
func (s *Store) TotalSize() int64 {
	var total int64
	for _, rec := range s.Records() {
		total += rec.Size
	}
	return total
}

// Clear removes every record from the cache.
func (s *Store) Clear() {
	for _, rec := range s.Records() {
		s.invalidate(rec.Key)
	}
}

// invalidate removes a record and its files.
func (s *Store) invalidate(key string) {
	s.index.Delete(key)
	_ = os.Remove(filepath.Join(s.dir, key+cacheSuffix))
	_ = os.Remove(filepath.Join(s.dir, key+markerSuffix))
}

// ensureCapacity evicts least-recently-completed records until the complete
// records plus the pending write fit within the configured maximum size.
func (s *Store) ensureCapacity(pending int64) {
	if s.maxSize <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.Records()
	total := pending
	for _, rec := range records {
		total += rec.Size
	}

	// walk from the oldest completion
	for i := len(records) - 1; i >= 0 && total > s.maxSize; i-- {
		rec := records[i]
		s.logger.Debug("evicting cache record", "key", rec.Key, "size", rec.Size)
		s.invalidate(rec.Key)
		if s.onEvict != nil {
			s.onEvict(rec)
		}
		total -= rec.Size
	}
}
