package pool

import "testing"

type chunk struct {
	id   int
	data [8]byte
}

func TestAcquireReleaseReuse(t *testing.T) {
	p := New(2, func() *chunk { return &chunk{} })

	a := p.Acquire()
	a.id = 42
	a.data[0] = 0xff

	p.Release(a)

	b := p.Acquire()
	if b.id != 0 || b.data[0] != 0 {
		t.Fatalf("released slot was not zeroed on reuse: %+v", b)
	}
}

func TestGrowsGeometrically(t *testing.T) {
	p := New(2, func() *chunk { return &chunk{} })
	total, free := p.Stats()
	if total != 2 || free != 2 {
		t.Fatalf("want total=2 free=2, got total=%d free=%d", total, free)
	}

	p.Acquire()
	p.Acquire()
	total, free = p.Stats()
	if total != 2 || free != 0 {
		t.Fatalf("want total=2 free=0, got total=%d free=%d", total, free)
	}

	// Exhausted: next acquire must grow by the current total (2 -> 4).
	p.Acquire()
	total, free = p.Stats()
	if total != 4 || free != 1 {
		t.Fatalf("want total=4 free=1 after growth, got total=%d free=%d", total, free)
	}
}

func TestAcquireReturnsDistinctSlots(t *testing.T) {
	p := New(4, func() *chunk { return &chunk{} })
	seen := map[*chunk]bool{}
	for i := 0; i < 4; i++ {
		c := p.Acquire()
		if seen[c] {
			t.Fatalf("acquired the same slot twice: %p", c)
		}
		seen[c] = true
	}
}
