// Package tree maintains the in-memory graph of requirements.
//
// Requirements form a DAG: each document records links to its parents, and
// the tree enforces that links never introduce self-references or cycles.
// The tree knows nothing about the filesystem; persistence lives in the
// store package.
package tree

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/requiemdev/requiem/internal/hrid"
	"github.com/requiemdev/requiem/internal/requirement"
)

var (
	// ErrDuplicateUUID is returned when inserting a requirement whose UUID is
	// already present.
	ErrDuplicateUUID = errors.New("requirement with this uuid already exists")
	// ErrHridConflict is returned when inserting a requirement whose HRID
	// already maps to a different UUID.
	ErrHridConflict = errors.New("hrid already maps to a different requirement")
	// ErrNotFound is returned when a requirement cannot be located.
	ErrNotFound = errors.New("requirement not found")
	// ErrSelfReference is returned when linking a requirement to itself.
	ErrSelfReference = errors.New("requirement cannot be its own parent")
	// ErrCycle is returned when a link would make the graph cyclic.
	ErrCycle = errors.New("link would create a cycle")
	// ErrDanglingParent is returned when a parent link references a UUID that
	// is not present in the tree.
	ErrDanglingParent = errors.New("parent reference points to a missing requirement")
)

// Tree is the in-memory requirement graph. It is not safe for concurrent
// use; callers serialise access.
type Tree struct {
	nodes  map[uuid.UUID]*requirement.Requirement
	byHrid map[hrid.Hrid]uuid.UUID

	// highest observed ID per kind, so new HRIDs stay monotonic even after
	// requirements are deleted from disk.
	highest map[string]int
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{
		nodes:   make(map[uuid.UUID]*requirement.Requirement),
		byHrid:  make(map[hrid.Hrid]uuid.UUID),
		highest: make(map[string]int),
	}
}

// Insert adds a requirement to the tree. Both the UUID and the HRID must be
// unused.
func (t *Tree) Insert(req *requirement.Requirement) error {
	id := req.UUID()
	h := req.Hrid()

	if _, exists := t.nodes[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateUUID, id)
	}
	if existing, exists := t.byHrid[h]; exists && existing != id {
		return fmt.Errorf("%w: %s", ErrHridConflict, h)
	}

	t.nodes[id] = req
	t.byHrid[h] = id
	if h.ID > t.highest[h.Kind] {
		t.highest[h.Kind] = h.ID
	}
	return nil
}

// Get returns the requirement with the given UUID.
func (t *Tree) Get(id uuid.UUID) (*requirement.Requirement, bool) {
	req, ok := t.nodes[id]
	return req, ok
}

// GetByHrid returns the requirement with the given HRID.
func (t *Tree) GetByHrid(h hrid.Hrid) (*requirement.Requirement, bool) {
	id, ok := t.byHrid[h]
	if !ok {
		return nil, false
	}
	req, ok := t.nodes[id]
	if !ok {
		// byHrid is derived from nodes; a miss here is a programming error.
		panic(fmt.Sprintf("hrid %s maps to uuid %s but the requirement is missing", h, id))
	}
	return req, ok
}

// Len returns the number of requirements in the tree.
func (t *Tree) Len() int { return len(t.nodes) }

// NextIndex reserves and returns the next per-kind index. The result is
// strictly greater than any ID seen by Insert for that kind.
func (t *Tree) NextIndex(kind string) int {
	t.highest[kind]++
	return t.highest[kind]
}

// ObserveIndex raises the per-kind high-water mark without inserting,
// used to fold in a persisted index that may outlive deleted files.
func (t *Tree) ObserveIndex(kind string, id int) {
	if id > t.highest[kind] {
		t.highest[kind] = id
	}
}

// HighestIndex returns the current per-kind high-water mark.
func (t *Tree) HighestIndex(kind string) int { return t.highest[kind] }

// All returns the requirements sorted by kind then ID.
func (t *Tree) All() []*requirement.Requirement {
	out := make([]*requirement.Requirement, 0, len(t.nodes))
	for _, req := range t.nodes {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		hi, hj := out[i].Hrid(), out[j].Hrid()
		if hi.Kind != hj.Kind {
			return hi.Kind < hj.Kind
		}
		return hi.ID < hj.ID
	})
	return out
}

// Link records parent as a parent of child, validating both endpoints and
// rejecting self-references and cycles. The child's parent set is updated
// in place; the caller persists it.
func (t *Tree) Link(child, parent hrid.Hrid) (*requirement.Requirement, error) {
	childReq, ok := t.GetByHrid(child)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, child)
	}
	parentReq, ok := t.GetByHrid(parent)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, parent)
	}
	if childReq.UUID() == parentReq.UUID() {
		return nil, fmt.Errorf("%w: %s", ErrSelfReference, child)
	}
	// A cycle appears iff child is already an ancestor of parent.
	if t.reachable(parentReq.UUID(), childReq.UUID()) {
		return nil, fmt.Errorf("%w: linking %s to %s", ErrCycle, child, parent)
	}

	childReq.AddParent(parentReq.UUID(), requirement.Parent{
		Hrid:        parentReq.Hrid(),
		Fingerprint: parentReq.Fingerprint(),
	})
	return childReq, nil
}

// Unlink removes parent from child's parent set. Removing a link that does
// not exist is not an error.
func (t *Tree) Unlink(child, parent hrid.Hrid) (*requirement.Requirement, error) {
	childReq, ok := t.GetByHrid(child)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, child)
	}
	parentReq, ok := t.GetByHrid(parent)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, parent)
	}

	childReq.RemoveParent(parentReq.UUID())
	return childReq, nil
}

// Parents returns the direct parents of the given requirement.
func (t *Tree) Parents(id uuid.UUID) []uuid.UUID {
	req, ok := t.nodes[id]
	if !ok {
		return nil
	}
	return req.ParentUUIDs()
}

// Children returns the direct children of the given requirement, sorted.
func (t *Tree) Children(id uuid.UUID) []uuid.UUID {
	children := t.childIndex()[id]
	sortUUIDs(children)
	return children
}

// Ancestors returns every transitive parent of the given requirement,
// excluding the requirement itself. Order is deterministic.
func (t *Tree) Ancestors(id uuid.UUID) []uuid.UUID {
	return t.walk(id, func(cur *requirement.Requirement) []uuid.UUID {
		return cur.ParentUUIDs()
	})
}

// Descendants returns every transitive child of the given requirement,
// excluding the requirement itself. Order is deterministic.
func (t *Tree) Descendants(id uuid.UUID) []uuid.UUID {
	children := t.childIndex()
	return t.walk(id, func(cur *requirement.Requirement) []uuid.UUID {
		return children[cur.UUID()]
	})
}

// TopologicalOrder returns the requirements ordered so every child appears
// before its parents. If the stored documents already contain a cycle (hand
// edits can introduce one), the error names a member of the cycle.
func (t *Tree) TopologicalOrder() ([]uuid.UUID, error) {
	// Kahn's algorithm over child -> parent edges.
	indegree := make(map[uuid.UUID]int, len(t.nodes))
	for id := range t.nodes {
		indegree[id] = 0
	}
	for _, req := range t.nodes {
		for _, parentID := range req.ParentUUIDs() {
			if _, ok := t.nodes[parentID]; ok {
				indegree[parentID]++
			}
		}
	}

	queue := make([]uuid.UUID, 0, len(t.nodes))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sortUUIDs(queue)

	order := make([]uuid.UUID, 0, len(t.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		next := make([]uuid.UUID, 0)
		for _, parentID := range t.nodes[id].ParentUUIDs() {
			if _, ok := t.nodes[parentID]; !ok {
				continue
			}
			indegree[parentID]--
			if indegree[parentID] == 0 {
				next = append(next, parentID)
			}
		}
		sortUUIDs(next)
		queue = append(queue, next...)
	}

	if len(order) != len(t.nodes) {
		for id, deg := range indegree {
			if deg > 0 {
				return nil, fmt.Errorf("%w: involving %s", ErrCycle, t.nodes[id].Hrid())
			}
		}
	}
	return order, nil
}

// RepairParentHrids rewrites any parent link whose recorded HRID no longer
// matches the parent's actual HRID (files may have been renamed). It returns
// the UUIDs of requirements that changed. All requirements are examined even
// if errors occur; dangling parent references are reported jointly.
func (t *Tree) RepairParentHrids() ([]uuid.UUID, error) {
	var changed []uuid.UUID
	var errs []error

	for _, req := range t.All() {
		touched := false
		for parentID, parent := range req.Parents() {
			actual, ok := t.nodes[parentID]
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s references %s", ErrDanglingParent, req.Hrid(), parentID))
				continue
			}
			if parent.Hrid != actual.Hrid() {
				req.SetParentHrid(parentID, actual.Hrid())
				touched = true
			}
		}
		if touched {
			changed = append(changed, req.UUID())
		}
	}

	return changed, errors.Join(errs...)
}

// reachable reports whether target can be reached from start by following
// parent links.
func (t *Tree) reachable(start, target uuid.UUID) bool {
	if start == target {
		return true
	}
	visited := map[uuid.UUID]struct{}{start: {}}
	stack := []uuid.UUID{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		req, ok := t.nodes[cur]
		if !ok {
			continue
		}
		for _, parentID := range req.ParentUUIDs() {
			if parentID == target {
				return true
			}
			if _, seen := visited[parentID]; !seen {
				visited[parentID] = struct{}{}
				stack = append(stack, parentID)
			}
		}
	}
	return false
}

func (t *Tree) walk(start uuid.UUID, neighbours func(*requirement.Requirement) []uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	visited := map[uuid.UUID]struct{}{start: {}}
	stack := []uuid.UUID{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		req, ok := t.nodes[cur]
		if !ok {
			continue
		}
		for _, next := range neighbours(req) {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			out = append(out, next)
			stack = append(stack, next)
		}
	}
	sortUUIDs(out)
	return out
}

// childIndex builds the reverse adjacency (parent -> children) on demand.
func (t *Tree) childIndex() map[uuid.UUID][]uuid.UUID {
	children := make(map[uuid.UUID][]uuid.UUID, len(t.nodes))
	for id, req := range t.nodes {
		for _, parentID := range req.ParentUUIDs() {
			children[parentID] = append(children[parentID], id)
		}
	}
	return children
}

func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
