package rbtree

import (
	"math/rand"
	"testing"
)

func intCompare(a, b int) int { return a - b }

// checkInvariants walks the tree verifying: root is black, no red node has
// a red child, and every root-to-leaf path has the same black height.
func checkInvariants[T any](t *testing.T, tr *Tree[T]) {
	t.Helper()
	if tr.root != nil && tr.root.c != black {
		t.Fatal("root is not black")
	}
	var walk func(n *Node[T]) int
	walk = func(n *Node[T]) int {
		if n == nil {
			return 1
		}
		if n.c == red {
			if tr.isRed(n.left) || tr.isRed(n.right) {
				t.Fatal("red node has a red child")
			}
		}
		bhLeft := walk(n.left)
		bhRight := walk(n.right)
		if bhLeft != bhRight {
			t.Fatalf("black height mismatch: left=%d right=%d", bhLeft, bhRight)
		}
		if n.c == black {
			return bhLeft + 1
		}
		return bhLeft
	}
	walk(tr.root)
}

func TestInsertMaintainsInvariants(t *testing.T) {
	tr := New(intCompare)
	for i := 0; i < 500; i++ {
		tr.Insert(rand.Intn(1000))
		checkInvariants(t, tr)
	}
}

func TestFindMinAfterInserts(t *testing.T) {
	tr := New(intCompare)
	values := []int{50, 20, 70, 10, 30, 5}
	for _, v := range values {
		tr.Insert(v)
	}
	min := tr.FindMin()
	if min == nil || min.Value != 5 {
		t.Fatalf("want min 5, got %v", min)
	}
}

func TestDeleteMaintainsInvariantsAndCount(t *testing.T) {
	tr := New(intCompare)
	var nodes []*Node[int]
	for i := 0; i < 200; i++ {
		nodes = append(nodes, tr.Insert(rand.Intn(1000)))
	}
	rand.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	for i, n := range nodes {
		tr.Delete(n)
		if tr.Len() != len(nodes)-i-1 {
			t.Fatalf("want len %d, got %d", len(nodes)-i-1, tr.Len())
		}
		checkInvariants(t, tr)
	}
	if tr.root != nil {
		t.Fatal("tree should be empty")
	}
}

func TestDeleteThenFindMinConsistent(t *testing.T) {
	tr := New(intCompare)
	for _, v := range []int{5, 1, 9, 3, 7, 2, 8} {
		tr.Insert(v)
	}
	// repeatedly delete the min, like the sweep loop does
	var seen []int
	for tr.Len() > 0 {
		min := tr.FindMin()
		seen = append(seen, min.Value)
		tr.Delete(min)
		checkInvariants(t, tr)
	}
	want := []int{1, 2, 3, 5, 7, 8, 9}
	if len(seen) != len(want) {
		t.Fatalf("got %v want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v want %v", seen, want)
		}
	}
}

func TestOrderedByCompositeKey(t *testing.T) {
	type entry struct {
		lastAccess int64
		id         string
	}
	cmp := func(a, b entry) int {
		if a.lastAccess != b.lastAccess {
			return int(a.lastAccess - b.lastAccess)
		}
		if a.id < b.id {
			return -1
		} else if a.id > b.id {
			return 1
		}
		return 0
	}
	tr := New(cmp)
	tr.Insert(entry{100, "b"})
	tr.Insert(entry{50, "a"})
	tr.Insert(entry{50, "z"})

	min := tr.FindMin()
	if min.Value.lastAccess != 50 || min.Value.id != "a" {
		t.Fatalf("tie-break by id failed: got %+v", min.Value)
	}
}
