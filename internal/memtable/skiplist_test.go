package memtable

import (
	"bytes"
	"testing"
)

func TestSkipListInsertAndContains(t *testing.T) {
	sl := NewSkipList(BytewiseComparator)
	for _, k := range []string{"banana", "apple", "cherry"} {
		sl.Insert([]byte(k))
	}
	if sl.Count() != 3 {
		t.Errorf("Count = %d, want 3", sl.Count())
	}
	for _, k := range []string{"banana", "apple", "cherry"} {
		if !sl.Contains([]byte(k)) {
			t.Errorf("Contains(%q) = false, want true", k)
		}
	}
	if sl.Contains([]byte("durian")) {
		t.Error("Contains('durian') = true, want false")
	}
}

func TestSkipListIteratorOrdering(t *testing.T) {
	sl := NewSkipList(BytewiseComparator)
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		sl.Insert([]byte(k))
	}

	it := sl.NewIterator()
	it.SeekToFirst()
	var got []string
	for it.Valid() {
		got = append(got, string(it.Key()))
		it.Next()
	}
	want := []string{"a", "b", "c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSkipListSeek(t *testing.T) {
	sl := NewSkipList(BytewiseComparator)
	for _, k := range []string{"a", "c", "e", "g"} {
		sl.Insert([]byte(k))
	}

	it := sl.NewIterator()
	it.Seek([]byte("d"))
	if !it.Valid() || !bytes.Equal(it.Key(), []byte("e")) {
		t.Fatalf("Seek('d') should land on 'e', got %q", it.Key())
	}

	it.Seek([]byte("z"))
	if it.Valid() {
		t.Error("Seek past the last key should be invalid")
	}
}

func TestSkipListIteratorPrev(t *testing.T) {
	sl := NewSkipList(BytewiseComparator)
	for _, k := range []string{"a", "b", "c"} {
		sl.Insert([]byte(k))
	}

	it := sl.NewIterator()
	it.SeekToLast()
	if !it.Valid() || !bytes.Equal(it.Key(), []byte("c")) {
		t.Fatalf("SeekToLast should land on 'c', got %q", it.Key())
	}
	it.Prev()
	if !it.Valid() || !bytes.Equal(it.Key(), []byte("b")) {
		t.Fatalf("Prev from 'c' should land on 'b', got %q", it.Key())
	}
	it.Prev()
	if !it.Valid() || !bytes.Equal(it.Key(), []byte("a")) {
		t.Fatalf("Prev from 'b' should land on 'a', got %q", it.Key())
	}
	it.Prev()
	if it.Valid() {
		t.Error("Prev before the first entry should be invalid")
	}
}

func TestSkipListEmpty(t *testing.T) {
	sl := NewSkipList(BytewiseComparator)
	if sl.Count() != 0 {
		t.Errorf("Count = %d, want 0", sl.Count())
	}
	it := sl.NewIterator()
	it.SeekToFirst()
	if it.Valid() {
		t.Error("iterator over an empty skiplist should be invalid")
	}
}
