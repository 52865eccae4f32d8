// Package disk implements the durable tier: one compressed file per key
// under a cache directory, with an index persisted next to the files.
package disk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/tiercache/internal/cache"
	"github.com/klauspost/compress/zstd"
)

const (
	indexFile = "cache.index"
	fileExt   = ".cache"

	// values smaller than this are stored uncompressed
	compressThreshold = 1024
)

// Store is a disk-backed cache.Cache keyed by string.
type Store[V any] struct {
	dir string

	// Compression
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// Index for fast lookups
	index map[string]*entry
	dirty bool

	mu     sync.RWMutex
	logger *log.Logger
}

// entry represents an entry in the disk index
type entry struct {
	Key        string
	FilePath   string
	Size       int64 // Size on disk
	Timestamp  time.Time
	Compressed bool
}

// record is what each value file holds. The key is stored alongside the
// value so a lost index can be rebuilt from the files alone.
type record[V any] struct {
	Key   string
	Value V
}

// Option configures a Store.
type Option func(*config)

type config struct {
	level  int
	logger *log.Logger
}

// WithCompressionLevel sets the zstd level (1-22). Zero disables compression.
func WithCompressionLevel(level int) Option {
	return func(c *config) { c.level = level }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New opens or creates a store rooted at dir.
func New[V any](dir string, opts ...Option) (*Store[V], error) {
	cfg := config{level: 3, logger: log.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &Store[V]{
		dir:    dir,
		index:  make(map[string]*entry),
		logger: cfg.logger,
	}

	if cfg.level > 0 {
		var err error
		s.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.level)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// always able to read compressed files, even when writing uncompressed
	var err error
	s.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := s.loadIndex(); err != nil {
		s.logger.Warn("disk index unreadable, rebuilding", "dir", dir, "error", err)
		if err := s.rebuildIndex(); err != nil {
			return nil, fmt.Errorf("failed to rebuild index: %w", err)
		}
	}

	return s, nil
}

// Dir returns the cache directory.
func (s *Store[V]) Dir() string {
	return s.dir
}

// KeyValues decodes every entry on disk. Unreadable entries are dropped
// from the index and skipped.
func (s *Store[V]) KeyValues(ctx context.Context) ([]cache.Pair[string, V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs := make([]cache.Pair[string, V], 0, len(s.index))
	for key, e := range s.index {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := s.read(e)
		if err != nil {
			s.drop(key, e)
			continue
		}
		pairs = append(pairs, cache.Pair[string, V]{Key: key, Value: v})
	}
	return pairs, nil
}

// Get retrieves a value from disk.
func (s *Store[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[key]
	if !ok {
		return zero, cache.ErrNotFound
	}

	v, err := s.read(e)
	if err != nil {
		// File missing or corrupted, remove from index
		s.logger.Debug("dropping unreadable disk entry", "key", key, "error", err)
		s.drop(key, e)
		return zero, cache.ErrNotFound
	}
	return v, nil
}

// Set stores a value on disk.
func (s *Store[V]) Set(ctx context.Context, key string, value V) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(record[V]{Key: key, Value: value}); err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}

	data := buf.Bytes()
	compressed := false
	if s.encoder != nil && len(data) > compressThreshold {
		// Only use compression if it actually reduces size
		if c := s.encoder.EncodeAll(data, nil); len(c) < len(data) {
			data = c
			compressed = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.filePath(key)
	if err := writeFile(path, data); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	s.index[key] = &entry{
		Key:        key,
		FilePath:   path,
		Size:       int64(len(data)),
		Timestamp:  time.Now(),
		Compressed: compressed,
	}
	s.dirty = true
	return nil
}

// Delete removes an entry from disk.
func (s *Store[V]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[key]
	if !ok {
		return cache.ErrNotFound
	}
	if err := os.Remove(e.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	delete(s.index, key)
	s.dirty = true
	return nil
}

// Clear removes all entries from disk.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.index {
		_ = os.Remove(e.FilePath)
	}
	s.index = make(map[string]*entry)
	if err := s.saveIndex(); err != nil {
		s.logger.Warn("failed to save disk index", "error", err)
	}
}

// OnMemoryWarning does nothing. Memory pressure is not a reason to
// destroy durable data.
func (s *Store[V]) OnMemoryWarning() {}

// Len returns the number of indexed entries.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.index)
}

// Size returns the bytes used by value files.
func (s *Store[V]) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var size int64
	for _, e := range s.index {
		size += e.Size
	}
	return size
}

// Contains checks if a key is indexed without reading its file.
func (s *Store[V]) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.index[key]
	return ok
}

// Flush persists the index if it changed.
func (s *Store[V]) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	return s.saveIndex()
}

// Close persists the index and releases the codecs.
func (s *Store[V]) Close() error {
	err := s.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encoder != nil {
		_ = s.encoder.Close()
	}
	s.decoder.Close()
	return err
}

// read loads and decodes one entry (caller must hold lock).
func (s *Store[V]) read(e *entry) (V, error) {
	var zero V

	data, err := os.ReadFile(e.FilePath)
	if err != nil {
		return zero, err
	}
	if e.Compressed {
		data, err = s.decoder.DecodeAll(data, nil)
		if err != nil {
			return zero, fmt.Errorf("decompress: %w", err)
		}
	}

	var rec record[V]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return zero, fmt.Errorf("decode: %w", err)
	}
	return rec.Value, nil
}

// drop removes an entry and its file (caller must hold lock).
func (s *Store[V]) drop(key string, e *entry) {
	_ = os.Remove(e.FilePath)
	delete(s.index, key)
	s.dirty = true
}

func (s *Store[V]) filePath(key string) string {
	// Use SHA256 hash of key for filename
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(hash[:16])+fileExt)
}

func (s *Store[V]) loadIndex() error {
	file, err := os.Open(filepath.Join(s.dir, indexFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.rebuildIndex()
		}
		return err
	}
	defer file.Close() //nolint:errcheck

	index := make(map[string]*entry)
	if err := gob.NewDecoder(file).Decode(&index); err != nil {
		return err
	}
	s.index = index
	return nil
}

// rebuildIndex scans value files and recovers their keys.
func (s *Store[V]) rebuildIndex() error {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	s.index = make(map[string]*entry)
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), fileExt) {
			continue
		}
		path := filepath.Join(s.dir, f.Name())
		info, err := f.Info()
		if err != nil {
			continue
		}

		e := &entry{FilePath: path, Size: info.Size(), Timestamp: info.ModTime()}
		key, err := s.readKey(e)
		if err != nil {
			s.logger.Debug("skipping unreadable cache file", "path", path, "error", err)
			continue
		}
		e.Key = key
		s.index[key] = e
	}
	s.dirty = len(s.index) > 0
	return nil
}

// readKey tries a file as plain gob first, then as zstd-compressed gob.
func (s *Store[V]) readKey(e *entry) (string, error) {
	data, err := os.ReadFile(e.FilePath)
	if err != nil {
		return "", err
	}

	var rec record[V]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err == nil {
		return rec.Key, nil
	}

	plain, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return "", err
	}
	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&rec); err != nil {
		return "", err
	}
	e.Compressed = true
	return rec.Key, nil
}

// saveIndex writes the index atomically (caller must hold lock).
func (s *Store[V]) saveIndex() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.index); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(s.dir, indexFile), buf.Bytes()); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func writeFile(path string, data []byte) error {
	// Write to temp file first, then rename (atomic on most systems)
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}
