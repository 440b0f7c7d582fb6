package cache

import (
	"path/filepath"
	"testing"
)

func TestPutGetRoundtrip(t *testing.T) {
	c, err := New(1024, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Put("a", []byte("hello"), 5)

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got) != "hello" {
		t.Errorf("Get = %q, want %q", got, "hello")
	}
}

func TestPutEvictsUnderBudgetPressure(t *testing.T) {
	c, err := New(10, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Put("a", []byte("aaaaa"), 5)
	c.Put("b", []byte("bbbbb"), 5)
	// Adding a third 5-byte entry should evict "a" (least recently used).
	c.Put("c", []byte("ccccc"), 5)

	if _, ok := c.Get("a"); ok {
		t.Error("expected a to have been evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to survive")
	}
}

func TestPutSpillsEvictedEntry(t *testing.T) {
	dir := t.TempDir()
	spill, err := NewBoltSpill(filepath.Join(dir, "spill.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer spill.Close()

	c, err := New(5, spill)
	if err != nil {
		t.Fatal(err)
	}
	c.Put("a", []byte("aaaaa"), 5)
	c.Put("b", []byte("bbbbb"), 5) // evicts a to disk

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("expected a to be retrievable from the disk spill")
	}
	if string(got) != "aaaaa" {
		t.Errorf("Get = %q, want %q", got, "aaaaa")
	}
}

func TestRemove(t *testing.T) {
	c, err := New(1024, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Put("a", []byte("x"), 1)
	c.Remove("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be removed")
	}
}

func TestUsedTracksCost(t *testing.T) {
	c, err := New(1024, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Put("a", []byte("x"), 10)
	c.Put("b", []byte("y"), 20)
	if got := c.Used(); got != 30 {
		t.Errorf("Used = %d, want 30", got)
	}
}
