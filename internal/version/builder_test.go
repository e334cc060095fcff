package version

import (
	"testing"

	"github.com/aalhour/stratumkv/internal/manifest"
)

func sst(id uint64, smallest, largest string) manifest.SSTMetadata {
	return manifest.SSTMetadata{
		ID:       id,
		Smallest: []byte(smallest),
		Largest:  []byte(largest),
		FileSize: 100,
	}
}

func TestBuilderAppliesAddedFiles(t *testing.T) {
	vs := NewManager(ManagerOptions{})
	b := NewBuilder(vs, nil)

	edit := manifest.NewVersionEdit()
	edit.AddFile(0, sst(1, "a", "m"))
	edit.AddFile(1, sst(2, "n", "z"))
	if err := b.Apply(edit); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	v := b.SaveTo(vs)
	if v.NumFiles(0) != 1 {
		t.Errorf("NumFiles(0) = %d, want 1", v.NumFiles(0))
	}
	if v.NumFiles(1) != 1 {
		t.Errorf("NumFiles(1) = %d, want 1", v.NumFiles(1))
	}
}

func TestBuilderAppliesDeletionsAgainstBase(t *testing.T) {
	vs := NewManager(ManagerOptions{})
	b1 := NewBuilder(vs, nil)
	add := manifest.NewVersionEdit()
	add.AddFile(0, sst(1, "a", "m"))
	add.AddFile(0, sst(2, "n", "z"))
	if err := b1.Apply(add); err != nil {
		t.Fatalf("Apply(add): %v", err)
	}
	base := b1.SaveTo(vs)
	if base.NumFiles(0) != 2 {
		t.Fatalf("base NumFiles(0) = %d, want 2", base.NumFiles(0))
	}

	b2 := NewBuilder(vs, base)
	del := manifest.NewVersionEdit()
	del.DeleteFile(0, 1)
	if err := b2.Apply(del); err != nil {
		t.Fatalf("Apply(del): %v", err)
	}
	next := b2.SaveTo(vs)
	if next.NumFiles(0) != 1 {
		t.Fatalf("next NumFiles(0) = %d, want 1", next.NumFiles(0))
	}
	if next.Files(0)[0].ID != 2 {
		t.Errorf("surviving file id = %d, want 2", next.Files(0)[0].ID)
	}
}

func TestBuilderDeleteThenReAddCancelsOut(t *testing.T) {
	vs := NewManager(ManagerOptions{})
	b := NewBuilder(vs, nil)

	edit := manifest.NewVersionEdit()
	edit.AddFile(1, sst(5, "a", "z"))
	edit.DeleteFile(1, 5)
	if err := b.Apply(edit); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	v := b.SaveTo(vs)
	if v.NumFiles(1) != 0 {
		t.Errorf("NumFiles(1) = %d, want 0 (add then delete of the same id in one edit)", v.NumFiles(1))
	}
}

func TestBuilderL0SortedOldestFirstByID(t *testing.T) {
	vs := NewManager(ManagerOptions{})
	b := NewBuilder(vs, nil)

	edit := manifest.NewVersionEdit()
	edit.AddFile(0, sst(3, "a", "b"))
	edit.AddFile(0, sst(1, "c", "d"))
	edit.AddFile(0, sst(2, "e", "f"))
	if err := b.Apply(edit); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	v := b.SaveTo(vs)
	files := v.Files(0)
	for i := 1; i < len(files); i++ {
		if files[i-1].ID >= files[i].ID {
			t.Fatalf("L0 files not sorted oldest-id-first: %+v", files)
		}
	}
}

func TestBuilderLevel1SortedBySmallestKey(t *testing.T) {
	vs := NewManager(ManagerOptions{})
	b := NewBuilder(vs, nil)

	edit := manifest.NewVersionEdit()
	edit.AddFile(1, sst(1, "m", "z"))
	edit.AddFile(1, sst(2, "a", "l"))
	if err := b.Apply(edit); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	v := b.SaveTo(vs)
	files := v.Files(1)
	if files[0].ID != 2 || files[1].ID != 1 {
		t.Errorf("L1 files not sorted by smallest key: %+v", files)
	}
}
