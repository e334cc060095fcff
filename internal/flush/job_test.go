package flush

import (
	"bytes"
	"testing"

	"github.com/aalhour/stratumkv/internal/memtable"
	"github.com/aalhour/stratumkv/internal/table"
	"github.com/aalhour/stratumkv/internal/vfs"
)

type fakeDB struct {
	fs      vfs.FS
	dbPath  string
	nextID  uint64
	builder table.BuilderOptions
}

func (f *fakeDB) NextSSTID() uint64 {
	id := f.nextID
	f.nextID++
	return id
}
func (f *fakeDB) DBPath() string                     { return f.dbPath }
func (f *fakeDB) FS() vfs.FS                         { return f.fs }
func (f *fakeDB) BuilderOptions() table.BuilderOptions { return f.builder }

func newFakeDB(t *testing.T) *fakeDB {
	t.Helper()
	fs := vfs.NewMemFS()
	if err := fs.MkdirAll("db", 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	return &fakeDB{fs: fs, dbPath: "db", nextID: 1, builder: table.DefaultBuilderOptions()}
}

func TestFlushJobEmptyMemtable(t *testing.T) {
	db := newFakeDB(t)
	job := NewJob(db, memtable.NewMemTable())
	if _, err := job.Run(); err != ErrNoOutput {
		t.Errorf("Run on empty memtable: err = %v, want ErrNoOutput", err)
	}
}

func TestFlushJobWritesSST(t *testing.T) {
	db := newFakeDB(t)
	mt := memtable.NewMemTable()
	mt.Put(1, []byte("a"), []byte("1"))
	mt.Put(2, []byte("b"), []byte("2"))
	mt.Delete(3, []byte("c"))

	job := NewJob(db, mt)
	meta, err := job.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if meta.NumEntries != 3 {
		t.Errorf("NumEntries = %d, want 3", meta.NumEntries)
	}
	if meta.MinTxn != 1 || meta.MaxTxn != 3 {
		t.Errorf("MinTxn/MaxTxn = %d/%d, want 1/3", meta.MinTxn, meta.MaxTxn)
	}
	if !db.fs.Exists(SSTPath("db", meta.ID)) {
		t.Error("flush should have written the sst file to disk")
	}

	rf, err := db.fs.OpenRandomAccess(SSTPath("db", meta.ID))
	if err != nil {
		t.Fatalf("OpenRandomAccess: %v", err)
	}
	defer rf.Close()
	raw := make([]byte, rf.Size())
	if _, err := rf.ReadAt(raw, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}

	r, err := table.NewReader(raw, table.ReaderOptions{}, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	entry, found, err := r.Get([]byte("a"), 100)
	if err != nil || !found {
		t.Fatalf("Get('a'): found=%v err=%v", found, err)
	}
	if !bytes.Equal(entry.Value, []byte("1")) {
		t.Errorf("Get('a').Value = %q, want '1'", entry.Value)
	}
}

func TestFlushJobAllocatesDistinctIDs(t *testing.T) {
	db := newFakeDB(t)
	mt1 := memtable.NewMemTable()
	mt1.Put(1, []byte("a"), []byte("1"))
	mt2 := memtable.NewMemTable()
	mt2.Put(2, []byte("b"), []byte("2"))

	meta1, err := NewJob(db, mt1).Run()
	if err != nil {
		t.Fatalf("Run (1): %v", err)
	}
	meta2, err := NewJob(db, mt2).Run()
	if err != nil {
		t.Fatalf("Run (2): %v", err)
	}
	if meta1.ID == meta2.ID {
		t.Errorf("successive flushes got the same file id %d", meta1.ID)
	}
}
