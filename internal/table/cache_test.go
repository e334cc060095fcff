package table

import (
	"testing"

	"github.com/aalhour/stratumkv/internal/dbformat"
	"github.com/aalhour/stratumkv/internal/vfs"
)

func writeTestSST(t *testing.T, fs vfs.FS, path string) {
	t.Helper()
	b := NewBuilder(BuilderOptions{BlockSize: 4096}, 1)
	if err := b.Add([]byte("key"), []byte("value"), 1, dbformat.Put); err != nil {
		t.Fatalf("Add: %v", err)
	}
	data, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestTableCacheGetCachesReader(t *testing.T) {
	fs := vfs.NewMemFS()
	writeTestSST(t, fs, "1.sst")

	tc := NewTableCache(fs, DefaultTableCacheOptions())
	defer tc.Close()

	h1, err := tc.Get(1, "1.sst")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	entry, found, err := h1.Reader().Get([]byte("key"), 1)
	if err != nil || !found {
		t.Fatalf("Reader().Get: found=%v err=%v", found, err)
	}
	if string(entry.Value) != "value" {
		t.Errorf("value = %q, want 'value'", entry.Value)
	}
	tc.Release(h1)

	h2, err := tc.Get(1, "1.sst")
	if err != nil {
		t.Fatalf("Get (second): %v", err)
	}
	if h1.Reader() != h2.Reader() {
		t.Error("second Get for the same file number should return the cached Reader")
	}
	tc.Release(h2)
}

func TestTableCacheEvict(t *testing.T) {
	fs := vfs.NewMemFS()
	writeTestSST(t, fs, "1.sst")

	tc := NewTableCache(fs, DefaultTableCacheOptions())
	defer tc.Close()

	h, err := tc.Get(1, "1.sst")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	tc.Release(h)
	tc.Evict(1)

	h2, err := tc.Get(1, "1.sst")
	if err != nil {
		t.Fatalf("Get after Evict: %v", err)
	}
	if h.Reader() == h2.Reader() {
		t.Error("Get after Evict should reload the file, not reuse the evicted Reader")
	}
	tc.Release(h2)
}
