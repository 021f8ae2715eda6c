// Package store persists requirements as markdown files in a directory.
//
// Every requirement lives at a canonical path derived from its HRID
// (<root>/<HRID>.md). The store loads the whole directory into a tree at
// open time and keeps the on-disk files and the in-memory tree in sync on
// every mutation. Writes are atomic and durable.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/requiemdev/requiem/internal/hrid"
	"github.com/requiemdev/requiem/internal/requirement"
	"github.com/requiemdev/requiem/internal/tree"
)

var (
	// ErrKindNotAllowed is returned when adding a requirement of a kind
	// outside the configured allow-list.
	ErrKindNotAllowed = errors.New("requirement kind is not in the allowed kinds")
	// ErrUnrecognisedFiles is returned when the directory contains markdown
	// files that are not valid requirements and the configuration does not
	// permit skipping them.
	ErrUnrecognisedFiles = errors.New("directory contains unrecognised markdown files")
)

// Options controls directory loading and HRID formatting.
type Options struct {
	// Digits is the zero-padding width for HRIDs in filenames and links.
	Digits int

	// AllowedKinds restricts the kinds accepted by Add. Empty means all
	// kinds are allowed.
	AllowedKinds []string

	// AllowUnrecognised makes Load skip, rather than reject, markdown files
	// that are not parseable requirements.
	AllowUnrecognised bool

	// Logger receives load diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

func (o *Options) normalize() {
	if o.Digits < 1 {
		o.Digits = hrid.DefaultDigits
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Store is a filesystem-backed set of requirements. It is safe for
// concurrent use.
type Store struct {
	root    string
	options Options
	logger  *zap.Logger

	mu    sync.RWMutex
	tree  *tree.Tree
	index *kindIndex
}

// Open loads every requirement under root into memory.
func Open(root string, options Options) (*Store, error) {
	options.normalize()

	s := &Store{
		root:    root,
		options: options,
		logger:  options.Logger,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the requirements directory.
func (s *Store) Root() string { return s.root }

// Digits returns the configured HRID padding width.
func (s *Store) Digits() int { return s.options.Digits }

// Reload re-reads the directory from scratch, replacing the in-memory tree.
func (s *Store) Reload() error {
	paths, err := collectMarkdownPaths(s.root)
	if err != nil {
		return fmt.Errorf("scan requirements directory: %w", err)
	}

	loaded, unrecognised, err := loadAll(paths)
	if err != nil {
		return err
	}
	if len(unrecognised) > 0 {
		if !s.options.AllowUnrecognised {
			return fmt.Errorf("%w: %s", ErrUnrecognisedFiles, strings.Join(unrecognised, ", "))
		}
		s.logger.Debug("skipping unrecognised markdown files",
			zap.Int("count", len(unrecognised)),
			zap.Strings("paths", unrecognised),
		)
	}

	t := tree.New()
	for _, req := range loaded {
		if err := t.Insert(req); err != nil {
			return fmt.Errorf("insert %s: %w", req.Hrid().Format(s.options.Digits), err)
		}
	}

	idx, err := loadKindIndex(s.indexPath())
	if err != nil {
		return err
	}
	// Fold the persisted high-water marks into the tree so deleted files do
	// not cause ID reuse.
	for kind, latest := range idx.kinds {
		t.ObserveIndex(kind, latest)
	}

	s.mu.Lock()
	s.tree = t
	s.index = idx
	s.mu.Unlock()

	s.logger.Info("requirements loaded",
		zap.String("root", s.root),
		zap.Int("count", t.Len()),
	)
	return nil
}

// Len returns the number of loaded requirements.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Requirement returns a copy of the requirement with the given UUID.
func (s *Store) Requirement(id uuid.UUID) (*requirement.Requirement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.tree.Get(id)
	if !ok {
		return nil, false
	}
	return req.Clone(), true
}

// RequirementByHrid returns a copy of the requirement with the given HRID.
func (s *Store) RequirementByHrid(h hrid.Hrid) (*requirement.Requirement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.tree.GetByHrid(h)
	if !ok {
		return nil, false
	}
	return req.Clone(), true
}

// All returns copies of every requirement, sorted by kind then ID.
func (s *Store) All() []*requirement.Requirement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.tree.All()
	out := make([]*requirement.Requirement, len(all))
	for i, req := range all {
		out[i] = req.Clone()
	}
	return out
}

// Add creates a new empty requirement of the given kind, assigns it the
// next monotonic ID, and persists it.
func (s *Store) Add(kind string) (*requirement.Requirement, error) {
	if kind == "" {
		return nil, hrid.ErrEmptyKind
	}
	if len(s.options.AllowedKinds) > 0 && !slices.Contains(s.options.AllowedKinds, kind) {
		return nil, fmt.Errorf("%w: %q (allowed: %s)",
			ErrKindNotAllowed, kind, strings.Join(s.options.AllowedKinds, ", "))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The persisted index survives file deletion; the tree knows what is on
	// disk right now. The next ID must clear both.
	s.tree.ObserveIndex(kind, s.index.latest(kind))
	id := s.tree.NextIndex(kind)

	h, err := hrid.New(kind, id)
	if err != nil {
		return nil, err
	}

	req := requirement.New(h, "")
	if err := s.saveLocked(req); err != nil {
		return nil, err
	}
	if err := s.tree.Insert(req); err != nil {
		// The file was written but the tree rejected it; this cannot happen
		// for a freshly generated UUID and a reserved index.
		return nil, fmt.Errorf("insert new requirement: %w", err)
	}

	s.index.record(kind, id)
	if err := s.index.save(s.indexPath()); err != nil {
		return nil, err
	}

	s.logger.Info("requirement added",
		zap.String("hrid", h.Format(s.options.Digits)),
		zap.String("uuid", req.UUID().String()),
	)
	return req.Clone(), nil
}

// Link records parent as a parent of child and persists the child.
func (s *Store) Link(child, parent hrid.Hrid) (*requirement.Requirement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := s.tree.Link(child, parent)
	if err != nil {
		return nil, err
	}
	if err := s.saveLocked(updated); err != nil {
		return nil, err
	}

	s.logger.Info("requirements linked",
		zap.String("child", child.Format(s.options.Digits)),
		zap.String("parent", parent.Format(s.options.Digits)),
	)
	return updated.Clone(), nil
}

// Clean repairs stale parent HRIDs across the whole directory and persists
// every changed requirement. It does not fail fast: all repairable
// requirements are saved before errors are reported.
func (s *Store) Clean() ([]hrid.Hrid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed, repairErr := s.tree.RepairParentHrids()

	var repaired []hrid.Hrid
	var saveErrs []error
	for _, id := range changed {
		req, ok := s.tree.Get(id)
		if !ok {
			continue
		}
		if err := s.saveLocked(req); err != nil {
			saveErrs = append(saveErrs, fmt.Errorf("save %s: %w", req.Hrid().Format(s.options.Digits), err))
			continue
		}
		repaired = append(repaired, req.Hrid())
	}

	return repaired, errors.Join(append([]error{repairErr}, saveErrs...)...)
}

// Save applies content and tag edits from req to the stored requirement
// with the same UUID and persists the result. Identity, creation time, and
// parent links are not editable here; links go through Link.
func (s *Store) Save(req *requirement.Requirement) (*requirement.Requirement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tree.Get(req.UUID())
	if !ok {
		return nil, fmt.Errorf("%w: %s", tree.ErrNotFound, req.Hrid().Format(s.options.Digits))
	}

	current.SetContent(req.Content())
	current.SetTags(req.Tags())
	if err := s.saveLocked(current); err != nil {
		return nil, err
	}

	s.logger.Info("requirement saved",
		zap.String("hrid", current.Hrid().Format(s.options.Digits)),
	)
	return current.Clone(), nil
}

// CanonicalPath returns the on-disk path for the given HRID.
func (s *Store) CanonicalPath(h hrid.Hrid) string {
	return filepath.Join(s.root, h.Format(s.options.Digits)+".md")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.root, indexDirName, indexReqFile)
}

// saveLocked writes the requirement atomically. renameio handles temp file
// creation, fsync, rename, and cleanup on error.
func (s *Store) saveLocked(req *requirement.Requirement) error {
	path := s.CanonicalPath(req.Hrid())

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending requirement file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			s.logger.Debug("cleanup pending requirement file", zap.Error(err))
		}
	}()

	if err := req.Encode(pending, s.options.Digits); err != nil {
		return fmt.Errorf("encode requirement: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace requirement file: %w", err)
	}
	return nil
}

// collectMarkdownPaths walks root for *.md files, skipping the internal
// metadata directory.
func collectMarkdownPaths(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == indexDirName {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ".md" {
			paths = append(paths, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("requirements directory %s does not exist: %w", root, err)
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// loadAll parses the given files in parallel. Files whose names are not
// valid HRIDs or whose contents do not parse are reported as unrecognised
// rather than failing the whole load.
func loadAll(paths []string) ([]*requirement.Requirement, []string, error) {
	loaded := make([]*requirement.Requirement, len(paths))
	unrecognisable := make([]bool, len(paths))

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			req, err := loadFromCanonicalPath(path)
			if err != nil {
				unrecognisable[i] = true
				return nil
			}
			loaded[i] = req
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	out := make([]*requirement.Requirement, 0, len(paths))
	var unrecognised []string
	for i, path := range paths {
		if unrecognisable[i] {
			unrecognised = append(unrecognised, path)
			continue
		}
		out = append(out, loaded[i])
	}
	return out, unrecognised, nil
}

// loadFromCanonicalPath parses one requirement, inferring the HRID from the
// filename.
func loadFromCanonicalPath(path string) (*requirement.Requirement, error) {
	stem := strings.TrimSuffix(filepath.Base(path), ".md")
	h, err := hrid.Parse(stem)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return requirement.Decode(f, h)
}
