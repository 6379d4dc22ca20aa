// Package staticfiles implements the minimal static-file serving surface
// the gateway needs: an in-memory FileCacheEntry and a loader that does the
// minimum safe path join. On-disk caching policy, gzip pre-compression, and
// directory traversal hardening beyond a basic path clean are explicitly
// out of scope; this is a stub satisfying the interface, not the original's
// full mmap/LRU/gzip cache.
package staticfiles

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// FileCacheEntry is the minimal contract the static-file handler needs
// from a cached file, independent of how it's actually stored.
type FileCacheEntry interface {
	Path() string
	ContentType() string
	Bytes() []byte
	GzipBytes() ([]byte, bool)
	Retain()
	Release()
}

// memEntry is the minimal in-memory FileCacheEntry implementation: it
// holds one file's full contents as read by a single Get, with no gzip
// variant.
type memEntry struct {
	path        string
	contentType string
	data        []byte
	refs        int64
}

func (e *memEntry) Path() string        { return e.path }
func (e *memEntry) ContentType() string  { return e.contentType }
func (e *memEntry) Bytes() []byte        { return e.data }
func (e *memEntry) GzipBytes() ([]byte, bool) { return nil, false }
func (e *memEntry) Retain()             { atomic.AddInt64(&e.refs, 1) }
func (e *memEntry) Release()            { atomic.AddInt64(&e.refs, -1) }

// mimeTypes mirrors the original's extension table.
var mimeTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".js":    "application/javascript",
	".css":   "text/css",
	".json":  "application/json",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".txt":   "text/plain",
	".xml":   "application/xml",
	".pdf":   "application/pdf",
	".zip":   "application/zip",
}

func contentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := mimeTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Cache serves files rooted at a single directory, reading the requested
// file into memory on every Get. Nothing is kept between calls, so there
// is no invalidation or eviction; it exists to satisfy the FileCacheEntry interface for the
// router's static handler, not to be a production cache.
type Cache struct {
	root string
}

// New creates a Cache rooted at dir. dir should be an absolute, resolved
// path; the caller is responsible for ensuring it exists.
func New(dir string) *Cache {
	return &Cache{root: filepath.Clean(dir)}
}

// Get resolves a request path (e.g. "/app.js") against the cache root and
// loads the file, rejecting any path that escapes the root after
// cleaning — the minimum safe join, not a full traversal-hardening layer.
func (c *Cache) Get(requestPath string) (FileCacheEntry, error) {
	clean := filepath.Clean("/" + requestPath)
	if clean == "/" {
		clean = "/index.html"
	}

	full := filepath.Join(c.root, clean)
	if !strings.HasPrefix(full, c.root+string(filepath.Separator)) && full != c.root {
		return nil, fmt.Errorf("staticfiles: path escapes root: %s", requestPath)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("staticfiles: read %s: %w", full, err)
	}

	entry := &memEntry{path: full, contentType: contentTypeFor(full), data: data}
	entry.Retain()
	return entry, nil
}

// Release releases a reference obtained from Get.
func (c *Cache) Release(entry FileCacheEntry) {
	if entry == nil {
		return
	}
	entry.Release()
}
