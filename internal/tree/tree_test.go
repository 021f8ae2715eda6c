package tree

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/requiemdev/requiem/internal/hrid"
	"github.com/requiemdev/requiem/internal/requirement"
)

func newReq(t *testing.T, h string, content string) *requirement.Requirement {
	t.Helper()
	parsed, err := hrid.Parse(h)
	if err != nil {
		t.Fatalf("parse hrid %q: %v", h, err)
	}
	return requirement.New(parsed, content)
}

func mustInsert(t *testing.T, tr *Tree, reqs ...*requirement.Requirement) {
	t.Helper()
	for _, req := range reqs {
		if err := tr.Insert(req); err != nil {
			t.Fatalf("insert %s: %v", req.Hrid(), err)
		}
	}
}

func TestInsertAndGet(t *testing.T) {
	t.Parallel()

	tr := New()
	req := newReq(t, "SYS-001", "requirement text")
	mustInsert(t, tr, req)

	got, ok := tr.Get(req.UUID())
	if !ok || got.Content() != "requirement text" {
		t.Fatalf("expected requirement by uuid, got %v (ok=%v)", got, ok)
	}

	got, ok = tr.GetByHrid(req.Hrid())
	if !ok || got.UUID() != req.UUID() {
		t.Fatalf("expected requirement by hrid, got %v (ok=%v)", got, ok)
	}

	if tr.Len() != 1 {
		t.Fatalf("expected length 1, got %d", tr.Len())
	}
}

func TestInsertRejectsDuplicates(t *testing.T) {
	t.Parallel()

	tr := New()
	req := newReq(t, "SYS-001", "")
	mustInsert(t, tr, req)

	if err := tr.Insert(req); !errors.Is(err, ErrDuplicateUUID) {
		t.Fatalf("expected ErrDuplicateUUID, got %v", err)
	}

	conflicting := newReq(t, "SYS-001", "different document, same hrid")
	if err := tr.Insert(conflicting); !errors.Is(err, ErrHridConflict) {
		t.Fatalf("expected ErrHridConflict, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	tr := New()
	if _, ok := tr.Get(uuid.New()); ok {
		t.Fatalf("expected miss for unknown uuid")
	}
	if _, ok := tr.GetByHrid(hrid.Hrid{Kind: "SYS", ID: 999}); ok {
		t.Fatalf("expected miss for unknown hrid")
	}
}

func TestNextIndexMonotonic(t *testing.T) {
	t.Parallel()

	tr := New()
	mustInsert(t, tr, newReq(t, "SYS-003", ""), newReq(t, "SYS-001", ""))

	if got := tr.NextIndex("SYS"); got != 4 {
		t.Fatalf("expected next index 4, got %d", got)
	}
	if got := tr.NextIndex("SYS"); got != 5 {
		t.Fatalf("expected next index 5, got %d", got)
	}
	if got := tr.NextIndex("USR"); got != 1 {
		t.Fatalf("expected first USR index 1, got %d", got)
	}

	tr.ObserveIndex("USR", 10)
	if got := tr.NextIndex("USR"); got != 11 {
		t.Fatalf("expected observed index to raise the high-water mark, got %d", got)
	}
}

func TestLink(t *testing.T) {
	t.Parallel()

	tr := New()
	parent := newReq(t, "SYS-001", "parent body")
	child := newReq(t, "USR-001", "child body")
	mustInsert(t, tr, parent, child)

	updated, err := tr.Link(child.Hrid(), parent.Hrid())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.UUID() != child.UUID() {
		t.Fatalf("expected link to return the child")
	}

	link, ok := child.Parents()[parent.UUID()]
	if !ok {
		t.Fatalf("expected parent link to be recorded")
	}
	if link.Hrid != parent.Hrid() {
		t.Fatalf("expected recorded hrid %s, got %s", parent.Hrid(), link.Hrid)
	}
	if link.Fingerprint != parent.Fingerprint() {
		t.Fatalf("expected fingerprint of parent content")
	}
}

func TestUnlink(t *testing.T) {
	t.Parallel()

	tr := New()
	parent := newReq(t, "SYS-001", "")
	child := newReq(t, "USR-001", "")
	mustInsert(t, tr, parent, child)

	if _, err := tr.Link(child.Hrid(), parent.Hrid()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := tr.Unlink(child.Hrid(), parent.Hrid())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated.Parents()) != 0 {
		t.Fatalf("expected parent link to be removed")
	}

	// Removing an absent link is a no-op.
	if _, err := tr.Unlink(child.Hrid(), parent.Hrid()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := tr.Unlink(child.Hrid(), hrid.Hrid{Kind: "SYS", ID: 99}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestParentsAndChildren(t *testing.T) {
	t.Parallel()

	tr := New()
	parent := newReq(t, "SYS-001", "")
	a := newReq(t, "USR-001", "")
	b := newReq(t, "USR-002", "")
	mustInsert(t, tr, parent, a, b)

	for _, child := range []*requirement.Requirement{a, b} {
		if _, err := tr.Link(child.Hrid(), parent.Hrid()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	parents := tr.Parents(a.UUID())
	if len(parents) != 1 || parents[0] != parent.UUID() {
		t.Fatalf("unexpected parents %v", parents)
	}
	if got := tr.Parents(uuid.New()); got != nil {
		t.Fatalf("expected nil parents for unknown uuid, got %v", got)
	}

	children := tr.Children(parent.UUID())
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	want := toSet([]uuid.UUID{a.UUID(), b.UUID()})
	for _, id := range children {
		if _, ok := want[id]; !ok {
			t.Fatalf("unexpected child %s", id)
		}
	}
}

func TestLinkErrors(t *testing.T) {
	t.Parallel()

	tr := New()
	a := newReq(t, "SYS-001", "")
	b := newReq(t, "SYS-002", "")
	mustInsert(t, tr, a, b)

	if _, err := tr.Link(hrid.Hrid{Kind: "SYS", ID: 99}, a.Hrid()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown child, got %v", err)
	}
	if _, err := tr.Link(a.Hrid(), hrid.Hrid{Kind: "SYS", ID: 99}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown parent, got %v", err)
	}
	if _, err := tr.Link(a.Hrid(), a.Hrid()); !errors.Is(err, ErrSelfReference) {
		t.Fatalf("expected ErrSelfReference, got %v", err)
	}
}

func TestLinkRejectsCycle(t *testing.T) {
	t.Parallel()

	tr := New()
	a := newReq(t, "SYS-001", "")
	b := newReq(t, "SYS-002", "")
	c := newReq(t, "SYS-003", "")
	mustInsert(t, tr, a, b, c)

	if _, err := tr.Link(b.Hrid(), a.Hrid()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tr.Link(c.Hrid(), b.Hrid()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// a already transitively depends on nothing; linking a under c closes a loop.
	if _, err := tr.Link(a.Hrid(), c.Hrid()); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	// Direct two-node cycle.
	if _, err := tr.Link(a.Hrid(), b.Hrid()); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestAncestorsAndDescendants(t *testing.T) {
	t.Parallel()

	tr := New()
	a := newReq(t, "SYS-001", "")
	b := newReq(t, "SYS-002", "")
	c := newReq(t, "SYS-003", "")
	d := newReq(t, "SYS-004", "")
	mustInsert(t, tr, a, b, c, d)

	// a <- b, a <- c, b <- d (child -> parent)
	for _, link := range [][2]*requirement.Requirement{{b, a}, {c, a}, {d, b}} {
		if _, err := tr.Link(link[0].Hrid(), link[1].Hrid()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	ancestors := toSet(tr.Ancestors(d.UUID()))
	if _, ok := ancestors[b.UUID()]; !ok {
		t.Fatalf("expected b in ancestors of d")
	}
	if _, ok := ancestors[a.UUID()]; !ok {
		t.Fatalf("expected a in ancestors of d")
	}
	if _, ok := ancestors[d.UUID()]; ok {
		t.Fatalf("expected the seed to be excluded")
	}

	descendants := toSet(tr.Descendants(a.UUID()))
	for _, want := range []*requirement.Requirement{b, c, d} {
		if _, ok := descendants[want.UUID()]; !ok {
			t.Fatalf("expected %s in descendants of a", want.Hrid())
		}
	}
}

func TestTopologicalOrder(t *testing.T) {
	t.Parallel()

	tr := New()
	a := newReq(t, "SYS-001", "")
	b := newReq(t, "SYS-002", "")
	c := newReq(t, "SYS-003", "")
	mustInsert(t, tr, a, b, c)

	if _, err := tr.Link(b.Hrid(), a.Hrid()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tr.Link(c.Hrid(), b.Hrid()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order, err := tr.TopologicalOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos := func(id uuid.UUID) int {
		for i, v := range order {
			if v == id {
				return i
			}
		}
		t.Fatalf("uuid %s missing from order", id)
		return -1
	}
	if !(pos(c.UUID()) < pos(b.UUID()) && pos(b.UUID()) < pos(a.UUID())) {
		t.Fatalf("expected children before parents, got %v", order)
	}
}

func TestTopologicalOrderDetectsCycle(t *testing.T) {
	t.Parallel()

	tr := New()
	a := newReq(t, "SYS-001", "")
	b := newReq(t, "SYS-002", "")
	mustInsert(t, tr, a, b)

	// Bypass Link's cycle guard the way a hand-edited file would.
	a.AddParent(b.UUID(), requirement.Parent{Hrid: b.Hrid()})
	b.AddParent(a.UUID(), requirement.Parent{Hrid: a.Hrid()})

	if _, err := tr.TopologicalOrder(); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestRepairParentHrids(t *testing.T) {
	t.Parallel()

	tr := New()
	parent := newReq(t, "SYS-001", "")
	child := newReq(t, "USR-001", "")
	mustInsert(t, tr, parent, child)

	// Simulate a rename: the recorded hrid no longer matches.
	child.AddParent(parent.UUID(), requirement.Parent{
		Hrid:        hrid.Hrid{Kind: "WRONG", ID: 9},
		Fingerprint: parent.Fingerprint(),
	})

	changed, err := tr.RepairParentHrids()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changed) != 1 || changed[0] != child.UUID() {
		t.Fatalf("expected the child to be reported, got %v", changed)
	}

	link := child.Parents()[parent.UUID()]
	if link.Hrid != parent.Hrid() {
		t.Fatalf("expected repaired hrid %s, got %s", parent.Hrid(), link.Hrid)
	}

	// Second pass is a no-op.
	changed, err = tr.RepairParentHrids()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("expected no repairs on second pass, got %v", changed)
	}
}

func TestRepairParentHridsDangling(t *testing.T) {
	t.Parallel()

	tr := New()
	child := newReq(t, "USR-001", "")
	mustInsert(t, tr, child)
	child.AddParent(uuid.New(), requirement.Parent{Hrid: hrid.Hrid{Kind: "SYS", ID: 1}})

	if _, err := tr.RepairParentHrids(); !errors.Is(err, ErrDanglingParent) {
		t.Fatalf("expected ErrDanglingParent, got %v", err)
	}
}

func TestAllSorted(t *testing.T) {
	t.Parallel()

	tr := New()
	mustInsert(t, tr,
		newReq(t, "USR-002", ""),
		newReq(t, "SYS-001", ""),
		newReq(t, "USR-001", ""),
	)

	all := tr.All()
	want := []string{"SYS-001", "USR-001", "USR-002"}
	for i, req := range all {
		if got := req.Hrid().Format(hrid.DefaultDigits); got != want[i] {
			t.Fatalf("expected %s at position %d, got %s", want[i], i, got)
		}
	}
}

func toSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
