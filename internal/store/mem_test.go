package store

import (
	"bytes"
	"testing"
)

func mustPut(t *testing.T, s Store, key, value string) {
	t.Helper()
	if err := s.Put([]byte(key), []byte(value)); err != nil {
		t.Fatalf("put %q: %v", key, err)
	}
}

func TestMemSeekGEAndSeekLE(t *testing.T) {
	s := NewMem()
	mustPut(t, s, "a10", "v10")
	mustPut(t, s, "a30", "v30")
	mustPut(t, s, "a20", "v20")

	k, v, err := s.SeekGE([]byte("a15"))
	if err != nil {
		t.Fatalf("SeekGE: %v", err)
	}
	if string(k) != "a20" || string(v) != "v20" {
		t.Fatalf("SeekGE(a15) = (%q,%q), want (a20,v20)", k, v)
	}

	k, v, err = s.SeekLE([]byte("a25"))
	if err != nil {
		t.Fatalf("SeekLE: %v", err)
	}
	if string(k) != "a20" || string(v) != "v20" {
		t.Fatalf("SeekLE(a25) = (%q,%q), want (a20,v20)", k, v)
	}

	k, v, err = s.SeekGE([]byte("a20"))
	if err != nil || string(k) != "a20" {
		t.Fatalf("SeekGE(a20) should return exact match, got (%q, err=%v)", k, err)
	}

	_, _, err = s.SeekGE([]byte("z"))
	if err != ErrNotFound {
		t.Fatalf("SeekGE past the end: err = %v, want ErrNotFound", err)
	}

	_, _, err = s.SeekLE([]byte("a00"))
	if err != ErrNotFound {
		t.Fatalf("SeekLE before the start: err = %v, want ErrNotFound", err)
	}
}

func TestMemScanIsAscending(t *testing.T) {
	s := NewMem()
	mustPut(t, s, "a3", "3")
	mustPut(t, s, "a1", "1")
	mustPut(t, s, "a2", "2")
	mustPut(t, s, "b1", "out of range")

	it, err := s.Scan([]byte("a0"), []byte("a9"))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"a1", "a2", "a3"}
	if len(got) != len(want) {
		t.Fatalf("scan returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scan[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMemWriteBatchIsAtomic(t *testing.T) {
	s := NewMem()
	mustPut(t, s, "k1", "old")

	err := s.WriteBatch(func(b Batch) error {
		b.Put([]byte("k1"), []byte("new"))
		b.Put([]byte("k2"), []byte("new2"))
		return nil
	})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	_, v, err := s.SeekGE([]byte("k1"))
	if err != nil || string(v) != "new" {
		t.Fatalf("k1 = %q (err=%v), want new", v, err)
	}
	_, v, err = s.SeekGE([]byte("k2"))
	if err != nil || string(v) != "new2" {
		t.Fatalf("k2 = %q (err=%v), want new2", v, err)
	}
}

func TestMemWriteBatchRollsBackOnError(t *testing.T) {
	s := NewMem()
	boom := bytes.ErrTooLarge
	err := s.WriteBatch(func(b Batch) error {
		b.Put([]byte("k1"), []byte("should not persist"))
		return boom
	})
	if err != boom {
		t.Fatalf("WriteBatch err = %v, want %v", err, boom)
	}
	if _, _, err := s.SeekGE([]byte("k1")); err != ErrNotFound {
		t.Fatalf("k1 should not have been written, err = %v", err)
	}
}

func TestMemDeleteViaBatch(t *testing.T) {
	s := NewMem()
	mustPut(t, s, "k1", "v1")
	err := s.WriteBatch(func(b Batch) error {
		b.Delete([]byte("k1"))
		return nil
	})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if _, _, err := s.SeekGE([]byte("k1")); err != ErrNotFound {
		t.Fatalf("k1 should have been deleted, err = %v", err)
	}
}

func TestMemCloseRejectsFurtherWrites(t *testing.T) {
	s := NewMem()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Put([]byte("k"), []byte("v")); err != ErrClosed {
		t.Fatalf("Put after close: err = %v, want ErrClosed", err)
	}
}
