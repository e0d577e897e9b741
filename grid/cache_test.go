package grid

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testImage(edge int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, edge, edge))
}

func TestDiskCache_Key(t *testing.T) {
	c := &DiskCache{}

	a := Item{ID: "a", ThumbRef: "/photos/a.jpg"}
	if c.Key(a) != c.Key(a) {
		t.Error("key should be stable for the same item")
	}

	// Either identity or reference changing yields a new key.
	b := Item{ID: "b", ThumbRef: "/photos/a.jpg"}
	if c.Key(a) == c.Key(b) {
		t.Error("different IDs should yield different keys")
	}
	a2 := Item{ID: "a", ThumbRef: "/photos/a-v2.jpg"}
	if c.Key(a) == c.Key(a2) {
		t.Error("different thumbnail refs should yield different keys")
	}

	// The separator prevents boundary ambiguity between ID and ref.
	x := Item{ID: "ab", ThumbRef: "c"}
	y := Item{ID: "a", ThumbRef: "bc"}
	if c.Key(x) == c.Key(y) {
		t.Error("ID/ref boundary should be unambiguous")
	}
}

func TestDiskCache_PutGet(t *testing.T) {
	c, err := NewDiskCache(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	item := Item{ID: "photo-1", ThumbRef: "/photos/1.jpg"}
	key := c.Key(item)

	if _, ok := c.Get(key); ok {
		t.Fatal("empty cache should miss")
	}

	c.Put(key, testImage(32))
	img, ok := c.Get(key)
	if !ok {
		t.Fatal("cache should hit after put")
	}
	if img.Bounds().Dx() != 32 {
		t.Errorf("round-tripped image width = %d, want 32", img.Bounds().Dx())
	}
}

func TestDiskCache_Cleanup(t *testing.T) {
	tmpDir := t.TempDir()
	c, err := NewDiskCache(tmpDir, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	// Temporarily lower limits
	oldSize := MaxDiskCacheSize
	oldFiles := MaxDiskCacheFiles
	MaxDiskCacheSize = 1 << 30
	MaxDiskCacheFiles = 5
	defer func() {
		MaxDiskCacheSize = oldSize
		MaxDiskCacheFiles = oldFiles
	}()

	// Create 10 entries with distinct modification times (oldest first)
	for i := 0; i < 10; i++ {
		name := string(rune('a'+i)) + ".jpg"
		path := filepath.Join(tmpDir, name)
		_ = os.WriteFile(path, []byte("fake image data"), 0644)
		mtime := time.Now().Add(time.Duration(i-100) * time.Minute)
		_ = os.Chtimes(path, mtime, mtime)
	}

	c.Cleanup()

	// At most the 80% watermark of MaxDiskCacheFiles (which is 4) survives.
	files, _ := os.ReadDir(tmpDir)
	if len(files) > 4 {
		t.Errorf("cleanup failed to evict enough files. Got %d, expected <= 4", len(files))
	}

	// The survivors must be the newest entries.
	for _, f := range files {
		if f.Name() < "g.jpg" {
			t.Errorf("cleanup deleted newest file or kept oldest: %s", f.Name())
		}
	}
}

func TestDiskCache_CleanupNoopUnderLimit(t *testing.T) {
	tmpDir := t.TempDir()
	c, _ := NewDiskCache(tmpDir, zerolog.Nop())

	for i := 0; i < 3; i++ {
		c.Put(c.Key(Item{ID: string(rune('a' + i))}), testImage(8))
	}
	c.Cleanup()

	files, _ := os.ReadDir(tmpDir)
	if len(files) != 3 {
		t.Fatalf("cleanup under limits should keep all files, got %d", len(files))
	}
}

func TestMemoryCache_LRU(t *testing.T) {
	m := newMemoryCache(3)
	m.put("a", testImage(1))
	m.put("b", testImage(2))
	m.put("c", testImage(3))

	// Touch "a" so "b" becomes the oldest.
	if _, ok := m.get("a"); !ok {
		t.Fatal("expected hit for a")
	}

	m.put("d", testImage(4))
	if _, ok := m.get("b"); ok {
		t.Error("b should have been evicted as least recently used")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := m.get(k); !ok {
			t.Errorf("%s should survive eviction", k)
		}
	}
}

func TestMemoryCache_UpdateDoesNotGrow(t *testing.T) {
	m := newMemoryCache(2)
	m.put("a", testImage(1))
	m.put("b", testImage(2))
	m.put("a", testImage(3)) // update, not insert

	if _, ok := m.get("b"); !ok {
		t.Fatal("update of existing key must not evict others")
	}
	img, ok := m.get("a")
	if !ok || img.Bounds().Dx() != 3 {
		t.Fatal("update should replace the stored image")
	}
}
