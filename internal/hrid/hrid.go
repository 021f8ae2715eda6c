// Package hrid implements human-readable requirement identifiers.
//
// An HRID combines a requirement kind with a monotonically increasing
// per-kind index, e.g. "SYS-001" or "USR-042". The kind may itself contain
// dashes ("REQ-PARENT-001"), so the index is always the segment after the
// last dash. On disk the index is zero-padded to a configurable width; the
// parsed form is padding-agnostic.
package hrid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultDigits is the zero-padding width used when no explicit width is
// configured.
const DefaultDigits = 3

var (
	// ErrSyntax is returned when an HRID does not have a KIND-ID shape.
	ErrSyntax = errors.New("hrid must have the form KIND-ID, e.g. SYS-001")
	// ErrEmptyKind is returned when the kind component is empty.
	ErrEmptyKind = errors.New("hrid kind must not be empty")
	// ErrInvalidID is returned when the ID component is not a positive integer.
	ErrInvalidID = errors.New("hrid id must be a positive integer")
)

// Hrid is a parsed human-readable requirement identifier.
type Hrid struct {
	// Kind classifies the requirement, e.g. "USR" or "SYS".
	Kind string

	// ID is the per-kind index, starting at 1.
	ID int
}

// New constructs an Hrid, validating both components.
func New(kind string, id int) (Hrid, error) {
	if kind == "" {
		return Hrid{}, ErrEmptyKind
	}
	if id < 1 {
		return Hrid{}, fmt.Errorf("%w, got %d", ErrInvalidID, id)
	}
	return Hrid{Kind: kind, ID: id}, nil
}

// Parse converts a string such as "SYS-001" into an Hrid. Zero padding in
// the ID component is accepted and discarded.
func Parse(s string) (Hrid, error) {
	i := strings.LastIndexByte(s, '-')
	if i < 0 {
		return Hrid{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	kind, idStr := s[:i], s[i+1:]
	if kind == "" {
		return Hrid{}, fmt.Errorf("%w: %q", ErrEmptyKind, s)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return Hrid{}, fmt.Errorf("%w: %q in %q", ErrInvalidID, idStr, s)
	}
	if id < 1 {
		return Hrid{}, fmt.Errorf("%w: got %d in %q", ErrInvalidID, id, s)
	}
	return Hrid{Kind: kind, ID: id}, nil
}

// String formats the HRID without padding. Error messages and logs use it
// so they never show a width that disagrees with the configured one; padded
// rendering goes through Format.
func (h Hrid) String() string {
	return fmt.Sprintf("%s-%d", h.Kind, h.ID)
}

// Format renders the HRID with the ID zero-padded to the given width.
// IDs wider than the padding are never truncated.
func (h Hrid) Format(digits int) string {
	if digits < 1 {
		digits = 1
	}
	return fmt.Sprintf("%s-%0*d", h.Kind, digits, h.ID)
}

// IsZero reports whether h is the zero value.
func (h Hrid) IsZero() bool {
	return h.Kind == "" && h.ID == 0
}
