package hashtable

import "testing"

func TestSetGetDelete(t *testing.T) {
	tbl := New[int](16, nil)
	tbl.Set([]byte("a"), 1)
	tbl.Set([]byte("b"), 2)

	if v, ok := tbl.Get([]byte("a")); !ok || v != 1 {
		t.Fatalf("got %v %v", v, ok)
	}
	if tbl.Count() != 2 {
		t.Fatalf("want count 2, got %d", tbl.Count())
	}

	tbl.Delete([]byte("a"))
	if _, ok := tbl.Get([]byte("a")); ok {
		t.Fatal("a should be gone")
	}
	if tbl.Count() != 1 {
		t.Fatalf("want count 1, got %d", tbl.Count())
	}
}

func TestSetUpdatesExisting(t *testing.T) {
	tbl := New[string](16, nil)
	tbl.Set([]byte("k"), "v1")
	tbl.Set([]byte("k"), "v2")
	if tbl.Count() != 1 {
		t.Fatalf("update must not grow count, got %d", tbl.Count())
	}
	v, _ := tbl.Get([]byte("k"))
	if v != "v2" {
		t.Fatalf("want v2, got %s", v)
	}
}

func TestBucketCountRoundsToPowerOf2(t *testing.T) {
	tbl := New[int](100, nil)
	if len(tbl.buckets) != 128 {
		t.Fatalf("want 128 buckets, got %d", len(tbl.buckets))
	}
}

func TestForEachVisitsAll(t *testing.T) {
	tbl := New[int](16, Murmur3)
	want := map[string]int{"a": 1, "b": 2, "c": 3}
	for k, v := range want {
		tbl.Set([]byte(k), v)
	}
	got := map[string]int{}
	tbl.ForEach(func(key []byte, v int) { got[string(key)] = v })
	if len(got) != len(want) {
		t.Fatalf("want %d entries, got %d", len(want), len(got))
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("key %s: want %d got %d", k, v, got[k])
		}
	}
}

func TestMurmur3DistinctFromFNV(t *testing.T) {
	key := []byte("collision-check")
	if FNV1a(key) == Murmur3(key) {
		t.Skip("coincidental equality is allowed but unlikely; not a correctness bug")
	}
}
