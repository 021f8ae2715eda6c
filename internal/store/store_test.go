package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/requiemdev/requiem/internal/hrid"
	"github.com/requiemdev/requiem/internal/tree"
)

func openStore(t *testing.T, options Options) *Store {
	t.Helper()

	s, err := Open(t.TempDir(), options)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestOpenEmptyDirectory(t *testing.T) {
	t.Parallel()

	s := openStore(t, Options{})
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d requirements", s.Len())
	}
}

func TestAddCreatesFile(t *testing.T) {
	t.Parallel()

	s := openStore(t, Options{})

	req, err := s.Add("SYS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Hrid() != (hrid.Hrid{Kind: "SYS", ID: 1}) {
		t.Fatalf("unexpected hrid: %+v", req.Hrid())
	}

	path := filepath.Join(s.Root(), "SYS-001.md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected requirement file at %s: %v", path, err)
	}
	if !strings.HasPrefix(string(data), "---\n") {
		t.Fatalf("expected frontmatter fence, got %q", string(data)[:10])
	}

	// IDs increment per kind.
	second, err := s.Add("SYS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Hrid().ID != 2 {
		t.Fatalf("expected SYS-002, got %s", second.Hrid())
	}

	other, err := s.Add("USR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other.Hrid().ID != 1 {
		t.Fatalf("expected USR-001, got %s", other.Hrid())
	}
}

func TestAddRespectsAllowedKinds(t *testing.T) {
	t.Parallel()

	s := openStore(t, Options{AllowedKinds: []string{"SYS", "USR"}})

	if _, err := s.Add("SYS"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Add("FOO"); !errors.Is(err, ErrKindNotAllowed) {
		t.Fatalf("expected ErrKindNotAllowed, got %v", err)
	}
	if _, err := s.Add(""); !errors.Is(err, hrid.ErrEmptyKind) {
		t.Fatalf("expected ErrEmptyKind, got %v", err)
	}
}

func TestIDsSurviveFileDeletion(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := Open(root, Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	first, err := s.Add("SYS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.Remove(filepath.Join(root, "SYS-001.md")); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	// Reopen: the persisted index must prevent SYS-001 from being reissued.
	s, err = Open(root, Options{})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	second, err := s.Add("SYS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Hrid().ID <= first.Hrid().ID {
		t.Fatalf("expected id above %d, got %d", first.Hrid().ID, second.Hrid().ID)
	}
}

func TestOpenLoadsExistingRequirements(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := Open(root, Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	added, err := s.Add("SYS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopened, err := Open(root, Options{})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	got, ok := reopened.RequirementByHrid(added.Hrid())
	if !ok {
		t.Fatalf("expected %s after reopen", added.Hrid())
	}
	if got.UUID() != added.UUID() {
		t.Fatalf("uuid changed across reload: %s != %s", got.UUID(), added.UUID())
	}
}

func TestOpenRejectsUnrecognisedFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "NOTES.md"), []byte("scratch pad"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := Open(root, Options{}); !errors.Is(err, ErrUnrecognisedFiles) {
		t.Fatalf("expected ErrUnrecognisedFiles, got %v", err)
	}

	// Allowing unrecognised files skips them instead.
	s, err := Open(root, Options{AllowUnrecognised: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected unrecognised file to be skipped, got %d requirements", s.Len())
	}
}

func TestLinkPersists(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := Open(root, Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	parent, err := s.Add("SYS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child, err := s.Add("USR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.Link(child.Hrid(), parent.Hrid()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopened, err := Open(root, Options{})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	got, ok := reopened.RequirementByHrid(child.Hrid())
	if !ok {
		t.Fatalf("expected child after reopen")
	}
	link, ok := got.Parents()[parent.UUID()]
	if !ok {
		t.Fatalf("expected persisted parent link, got %v", got.Parents())
	}
	if link.Hrid != parent.Hrid() {
		t.Fatalf("unexpected recorded hrid: %s", link.Hrid)
	}
}

func TestLinkErrors(t *testing.T) {
	t.Parallel()

	s := openStore(t, Options{})
	req, err := s.Add("SYS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.Link(req.Hrid(), hrid.Hrid{Kind: "SYS", ID: 99}); !errors.Is(err, tree.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Link(req.Hrid(), req.Hrid()); !errors.Is(err, tree.ErrSelfReference) {
		t.Fatalf("expected ErrSelfReference, got %v", err)
	}
}

func TestSavePersistsEdits(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := Open(root, Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	added, err := s.Add("SYS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	edited := added.Clone()
	edited.SetContent("The system shall log every write.")
	edited.SetTags([]string{"audit"})
	saved, err := s.Save(edited)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Content() != "The system shall log every write." {
		t.Fatalf("unexpected content: %q", saved.Content())
	}

	reopened, err := Open(root, Options{})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	got, ok := reopened.RequirementByHrid(added.Hrid())
	if !ok {
		t.Fatalf("expected requirement after reopen")
	}
	if got.Content() != "The system shall log every write." {
		t.Fatalf("edit not persisted: %q", got.Content())
	}
	if tags := got.Tags(); len(tags) != 1 || tags[0] != "audit" {
		t.Fatalf("tags not persisted: %v", tags)
	}
	if !got.Created().Equal(added.Created()) {
		t.Fatalf("creation time changed across save")
	}
}

func TestSaveUnknownRequirement(t *testing.T) {
	t.Parallel()

	s := openStore(t, Options{})

	stray, err := s.Add("SYS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	other := openStore(t, Options{})
	if _, err := other.Save(stray.Clone()); !errors.Is(err, tree.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCleanRepairsRenamedParents(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := Open(root, Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	parent, err := s.Add("SYS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child, err := s.Add("USR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Link(child.Hrid(), parent.Hrid()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Rename the parent file on disk, as a user reorganising would.
	oldPath := filepath.Join(root, "SYS-001.md")
	newPath := filepath.Join(root, "SYS-007.md")
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatalf("rename: %v", err)
	}

	s, err = Open(root, Options{})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}

	repaired, err := s.Clean()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repaired) != 1 || repaired[0] != child.Hrid() {
		t.Fatalf("expected child to be repaired, got %v", repaired)
	}

	// The repaired link must be persisted.
	reopened, err := Open(root, Options{})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	got, ok := reopened.RequirementByHrid(child.Hrid())
	if !ok {
		t.Fatalf("expected child after reopen")
	}
	link := got.Parents()[parent.UUID()]
	if link.Hrid != (hrid.Hrid{Kind: "SYS", ID: 7}) {
		t.Fatalf("expected repaired hrid SYS-007, got %s", link.Hrid)
	}

	// A clean tree needs no repairs.
	repaired, err = s.Clean()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repaired) != 0 {
		t.Fatalf("expected nothing to repair, got %v", repaired)
	}
}

func TestCustomDigits(t *testing.T) {
	t.Parallel()

	s := openStore(t, Options{Digits: 5})

	req, err := s.Add("SYS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := filepath.Join(s.Root(), "SYS-00001.md")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file %s: %v", path, err)
	}
	if req.Hrid().Format(s.Digits()) != "SYS-00001" {
		t.Fatalf("unexpected formatting: %s", req.Hrid().Format(s.Digits()))
	}
}

func TestReloadPicksUpExternalChanges(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := Open(root, Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	other, err := Open(root, Options{})
	if err != nil {
		t.Fatalf("open second store: %v", err)
	}
	added, err := other.Add("SYS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Len() != 0 {
		t.Fatalf("expected stale view before reload")
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := s.RequirementByHrid(added.Hrid()); !ok {
		t.Fatalf("expected requirement after reload")
	}
}
