package presence

import (
	"reflect"
	"testing"
)

func TestMarkOnlineIsIdempotent(t *testing.T) {
	r := NewRegistry()

	if !r.MarkOnline(Entry{UserID: "alice", DisplayName: "Alice"}) {
		t.Fatal("expected first mark to report a transition")
	}
	before := r.Snapshot()
	if r.MarkOnline(Entry{UserID: "alice", DisplayName: "Alice"}) {
		t.Fatal("expected re-mark to be a no-op")
	}
	after := r.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("snapshot changed on re-mark: %+v vs %+v", before, after)
	}
	if len(after) != 1 {
		t.Fatalf("expected 1 online user, got %d", len(after))
	}
}

func TestMarkOfflineIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.MarkOnline(Entry{UserID: "alice"})

	if !r.MarkOffline("alice") {
		t.Fatal("expected offline transition")
	}
	if r.MarkOffline("alice") {
		t.Fatal("expected repeated offline to be a no-op")
	}
	if r.IsOnline("alice") {
		t.Fatal("expected alice offline")
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
}

func TestSnapshotIsSortedAndDetached(t *testing.T) {
	r := NewRegistry()
	r.MarkOnline(Entry{UserID: "charlie"})
	r.MarkOnline(Entry{UserID: "alice"})
	r.MarkOnline(Entry{UserID: "bob"})

	snap := r.Snapshot()
	ids := make([]string, 0, len(snap))
	for _, e := range snap {
		ids = append(ids, e.UserID)
	}
	if !reflect.DeepEqual(ids, []string{"alice", "bob", "charlie"}) {
		t.Fatalf("expected sorted ids, got %v", ids)
	}

	snap[0].UserID = "mutated"
	if r.IsOnline("mutated") || !r.IsOnline("alice") {
		t.Fatal("expected snapshot mutation to leave registry untouched")
	}
}

func TestMarkOnlineIgnoresEmptyID(t *testing.T) {
	r := NewRegistry()
	if r.MarkOnline(Entry{}) {
		t.Fatal("expected empty id to be rejected")
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
}
