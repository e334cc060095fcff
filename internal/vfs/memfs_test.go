package vfs

import (
	"bytes"
	"io"
	"os"
	"testing"
)

func TestMemFSCreateWriteRead(t *testing.T) {
	fs := NewMemFS()
	f, err := fs.Create("a.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rf, err := fs.Open("a.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rf.Close()
	data, err := io.ReadAll(rf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(data, []byte("hello")) {
		t.Errorf("data = %q, want 'hello'", data)
	}
}

func TestMemFSOpenMissingFileReturnsNotExist(t *testing.T) {
	fs := NewMemFS()
	if _, err := fs.Open("missing.txt"); err != os.ErrNotExist {
		t.Errorf("Open missing file: err = %v, want os.ErrNotExist", err)
	}
}

func TestMemFSRandomAccessReadAt(t *testing.T) {
	fs := NewMemFS()
	f, err := fs.Create("a.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write([]byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()

	rf, err := fs.OpenRandomAccess("a.txt")
	if err != nil {
		t.Fatalf("OpenRandomAccess: %v", err)
	}
	defer rf.Close()

	buf := make([]byte, 4)
	n, err := rf.ReadAt(buf, 3)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 4 || !bytes.Equal(buf, []byte("3456")) {
		t.Errorf("ReadAt(off=3) = %q, want '3456'", buf[:n])
	}
	if rf.Size() != 10 {
		t.Errorf("Size() = %d, want 10", rf.Size())
	}
}

func TestMemFSRenameAndRemove(t *testing.T) {
	fs := NewMemFS()
	f, err := fs.Create("old.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Close()

	if err := fs.Rename("old.txt", "new.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if fs.Exists("old.txt") {
		t.Error("old.txt should no longer exist after Rename")
	}
	if !fs.Exists("new.txt") {
		t.Error("new.txt should exist after Rename")
	}

	if err := fs.Remove("new.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if fs.Exists("new.txt") {
		t.Error("new.txt should no longer exist after Remove")
	}
}

func TestMemFSListDir(t *testing.T) {
	fs := NewMemFS()
	for _, name := range []string{"db/1.sst", "db/2.sst", "db/MANIFEST"} {
		f, err := fs.Create(name)
		if err != nil {
			t.Fatalf("Create(%q): %v", name, err)
		}
		f.Close()
	}

	names, err := fs.ListDir("db")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	want := []string{"1.sst", "2.sst", "MANIFEST"}
	if len(names) != len(want) {
		t.Fatalf("ListDir = %v, want %v", names, want)
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("ListDir[%d] = %q, want %q", i, names[i], n)
		}
	}
}

func TestMemFSAppendAndTruncate(t *testing.T) {
	fs := NewMemFS()
	f, err := fs.Create("a.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Append([]byte("abc")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := f.Append([]byte("def")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	size, err := f.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 6 {
		t.Fatalf("Size = %d, want 6", size)
	}
	if err := f.Truncate(3); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	size, _ = f.Size()
	if size != 3 {
		t.Errorf("Size after Truncate(3) = %d, want 3", size)
	}
}

func TestMemFSLockAndRelease(t *testing.T) {
	fs := NewMemFS()
	closer, err := fs.Lock("LOCK")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Close lock: %v", err)
	}
}

func TestMemFSMkdirAllAndExists(t *testing.T) {
	fs := NewMemFS()
	if err := fs.MkdirAll("a/b/c", 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if !fs.Exists("a/b/c") {
		t.Error("directory created by MkdirAll should report Exists")
	}
}
