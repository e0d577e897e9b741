package grid

import (
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// MaxDiskCacheSize and MaxDiskCacheFiles bound the on-disk thumbnail
	// cache; Cleanup evicts oldest-first down to an 80% watermark.
	MaxDiskCacheSize  int64 = 500 * 1024 * 1024 // 500MB
	MaxDiskCacheFiles int   = 10000
)

// DiskCache persists generated thumbnails so a re-opened result set shows
// pixels without re-decoding originals. Keys derive from item identity and
// thumbnail reference, so a re-indexed photo gets a fresh entry.
type DiskCache struct {
	dir string
	log zerolog.Logger
}

// NewDiskCache creates (if needed) and wraps the cache directory.
func NewDiskCache(dir string, log zerolog.Logger) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir, log: log}, nil
}

// Key returns the cache key for an item's thumbnail.
func (c *DiskCache) Key(item Item) string {
	h := sha256.New()
	h.Write([]byte(item.ID))
	h.Write([]byte{0})
	h.Write([]byte(item.ThumbRef))
	return hex.EncodeToString(h.Sum(nil))
}

// Get loads a cached thumbnail, touching its mtime for LRU ordering.
func (c *DiskCache) Get(key string) (image.Image, bool) {
	path := filepath.Join(c.dir, key+".jpg")
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, false
	}
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	return img, true
}

// Put stores a thumbnail. Failures are logged and otherwise ignored; the
// cache is an optimization, never a dependency.
func (c *DiskCache) Put(key string, img image.Image) {
	path := filepath.Join(c.dir, key+".jpg")
	f, err := os.Create(path)
	if err != nil {
		c.log.Debug().Err(err).Msg("disk cache: create failed")
		return
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 85}); err != nil {
		c.log.Debug().Err(err).Msg("disk cache: encode failed")
	}
}

// Cleanup enforces the size and count limits, deleting oldest entries
// first until both are at 80% of their maximum.
func (c *DiskCache) Cleanup() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}

	type cacheFile struct {
		name string
		size int64
		time time.Time
	}

	var files []cacheFile
	var totalSize int64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jpg" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, cacheFile{name: e.Name(), size: info.Size(), time: info.ModTime()})
		totalSize += info.Size()
	}

	if totalSize <= MaxDiskCacheSize && len(files) <= MaxDiskCacheFiles {
		return
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].time.Before(files[j].time)
	})

	sizeMark := int64(float64(MaxDiskCacheSize) * 0.8)
	countMark := int(float64(MaxDiskCacheFiles) * 0.8)
	for _, f := range files {
		if totalSize <= sizeMark && len(files) <= countMark {
			break
		}
		_ = os.Remove(filepath.Join(c.dir, f.name))
		totalSize -= f.size
		files = files[1:]
	}
}

// memoryCache holds recently delivered thumbnails keyed by item ID, so a
// slot scrolled back into view repaints without touching the loader. It is
// bounded; the oldest untouched entry is evicted first.
type memoryCache struct {
	mu    sync.Mutex
	cap   int
	items map[string]image.Image
	order []string // least recently used first
}

func newMemoryCache(cap int) *memoryCache {
	if cap < 1 {
		cap = 1
	}
	return &memoryCache{
		cap:   cap,
		items: make(map[string]image.Image, cap),
	}
}

func (m *memoryCache) get(key string) (image.Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.items[key]
	if ok {
		m.touchLocked(key)
	}
	return img, ok
}

func (m *memoryCache) put(key string, img image.Image) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; ok {
		m.items[key] = img
		m.touchLocked(key)
		return
	}
	for len(m.items) >= m.cap && len(m.order) > 0 {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.items, oldest)
	}
	m.items[key] = img
	m.order = append(m.order, key)
}

func (m *memoryCache) touchLocked(key string) {
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			m.order = append(m.order, key)
			return
		}
	}
}
