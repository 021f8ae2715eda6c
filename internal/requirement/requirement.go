// Package requirement defines the requirement entity and its on-disk
// markdown representation.
//
// A requirement is a markdown document with YAML frontmatter. The
// frontmatter carries the stable identity (UUID), creation timestamp, tags,
// and parent links; the body is free-form markdown. The HRID is not part of
// the frontmatter: it is derived from the filename and may change when files
// are renamed.
package requirement

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/requiemdev/requiem/internal/hrid"
)

// Parent records a link to a parent requirement as seen from the child.
//
// The HRID is a convenience copy for human readers and may go stale when
// the parent file is renamed; the UUID is authoritative. The fingerprint
// captures the parent's content at link time so that reviews can detect
// parents that changed after the link was made.
type Parent struct {
	Hrid        hrid.Hrid
	Fingerprint string
}

// Requirement is a single requirement document.
type Requirement struct {
	uuid    uuid.UUID
	hrid    hrid.Hrid
	created time.Time
	tags    []string
	content string
	parents map[uuid.UUID]Parent
}

// New creates a requirement with a fresh UUID and the current time.
func New(h hrid.Hrid, content string) *Requirement {
	return &Requirement{
		uuid:    uuid.New(),
		hrid:    h,
		created: time.Now().UTC(),
		content: content,
		parents: make(map[uuid.UUID]Parent),
	}
}

// NewWithIdentity creates a requirement with explicit identity fields.
// Used when decoding from disk and in tests needing deterministic values.
func NewWithIdentity(id uuid.UUID, h hrid.Hrid, created time.Time, content string) *Requirement {
	return &Requirement{
		uuid:    id,
		hrid:    h,
		created: created.UTC(),
		content: content,
		parents: make(map[uuid.UUID]Parent),
	}
}

// UUID returns the stable identity of the requirement.
func (r *Requirement) UUID() uuid.UUID { return r.uuid }

// Hrid returns the human-readable identifier.
func (r *Requirement) Hrid() hrid.Hrid { return r.hrid }

// SetHrid replaces the human-readable identifier. The UUID is unaffected.
func (r *Requirement) SetHrid(h hrid.Hrid) { r.hrid = h }

// Created returns the creation timestamp in UTC.
func (r *Requirement) Created() time.Time { return r.created }

// Content returns the markdown body.
func (r *Requirement) Content() string { return r.content }

// SetContent replaces the markdown body.
func (r *Requirement) SetContent(content string) { r.content = content }

// Tags returns the requirement's tags, sorted and de-duplicated.
func (r *Requirement) Tags() []string {
	out := make([]string, len(r.tags))
	copy(out, r.tags)
	return out
}

// SetTags normalises and stores the given tags.
func (r *Requirement) SetTags(tags []string) {
	r.tags = normalizeTags(tags)
}

// Fingerprint returns a hex-encoded sha256 digest of the content. Links
// store the parent's fingerprint so stale references can be detected.
func (r *Requirement) Fingerprint() string {
	sum := sha256.Sum256([]byte(r.content))
	return hex.EncodeToString(sum[:])
}

// AddParent records (or replaces) a link to the given parent.
func (r *Requirement) AddParent(parentUUID uuid.UUID, parent Parent) {
	if r.parents == nil {
		r.parents = make(map[uuid.UUID]Parent)
	}
	r.parents[parentUUID] = parent
}

// RemoveParent deletes the link to the given parent, reporting whether a
// link existed.
func (r *Requirement) RemoveParent(parentUUID uuid.UUID) bool {
	if _, ok := r.parents[parentUUID]; !ok {
		return false
	}
	delete(r.parents, parentUUID)
	return true
}

// SetParentHrid rewrites the recorded HRID of an existing parent link,
// reporting whether the link existed.
func (r *Requirement) SetParentHrid(parentUUID uuid.UUID, h hrid.Hrid) bool {
	p, ok := r.parents[parentUUID]
	if !ok {
		return false
	}
	p.Hrid = h
	r.parents[parentUUID] = p
	return true
}

// Parents returns a copy of the parent links keyed by parent UUID.
func (r *Requirement) Parents() map[uuid.UUID]Parent {
	out := make(map[uuid.UUID]Parent, len(r.parents))
	for k, v := range r.parents {
		out[k] = v
	}
	return out
}

// ParentUUIDs returns the parent UUIDs in a deterministic order.
func (r *Requirement) ParentUUIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(r.parents))
	for k := range r.parents {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Clone returns a deep copy of the requirement.
func (r *Requirement) Clone() *Requirement {
	out := &Requirement{
		uuid:    r.uuid,
		hrid:    r.hrid,
		created: r.created,
		content: r.content,
		tags:    append([]string(nil), r.tags...),
		parents: make(map[uuid.UUID]Parent, len(r.parents)),
	}
	for k, v := range r.parents {
		out.parents[k] = v
	}
	return out
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	unique := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		unique[tag] = struct{}{}
	}
	out := make([]string, 0, len(unique))
	for tag := range unique {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
