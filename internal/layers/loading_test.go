package layers

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadingSet_OwnerTokens(t *testing.T) {
	l := newLoadingSet(nil)
	l.add("a", 1)
	l.add("a", 2)

	if l.remove("a", 1) {
		t.Fatalf("stale token must not clear the entry")
	}
	if !l.remove("a", 2) {
		t.Fatalf("owning token should clear the entry")
	}
	if l.remove("a", 2) {
		t.Fatalf("entry must only be removed once")
	}
	if l.len() != 0 {
		t.Fatalf("expected empty set, got %v", l.ids())
	}
}

func TestLoadingSet_AllClearOncePerTransition(t *testing.T) {
	fired := 0
	l := newLoadingSet(func() { fired++ })

	// Empty to empty never fires.
	l.begin()
	if l.settle() || fired != 0 {
		t.Fatalf("all-clear fired for an empty set")
	}

	l.begin()
	l.add("a", 1)
	l.add("b", 2)
	l.settle()

	l.begin()
	l.remove("a", 1)
	if l.settle() || fired != 0 {
		t.Fatalf("all-clear fired while b is loading")
	}

	l.begin()
	l.remove("b", 2)
	if !l.settle() || fired != 1 {
		t.Fatalf("expected exactly one all-clear, got %d", fired)
	}

	l.begin()
	l.remove("b", 2)
	if l.settle() || fired != 1 {
		t.Fatalf("all-clear fired again without a new transition, got %d", fired)
	}
}

func TestLoadingSet_SwapWithinOneMessageDoesNotFire(t *testing.T) {
	fired := 0
	l := newLoadingSet(func() { fired++ })
	l.add("a", 1)

	l.begin()
	l.remove("a", 1)
	l.add("b", 2)
	l.settle()

	if fired != 0 {
		t.Fatalf("all-clear fired while b is loading")
	}
	if diff := cmp.Diff([]string{"b"}, l.ids()); diff != "" {
		t.Fatalf("unexpected loading ids (-want +got):\n%s", diff)
	}
}

func TestLoadingSet_ResetFires(t *testing.T) {
	fired := 0
	l := newLoadingSet(func() { fired++ })
	l.add("a", 1)

	l.begin()
	l.reset()
	l.settle()

	if fired != 1 {
		t.Fatalf("expected reset of a loading set to fire once, got %d", fired)
	}
}
