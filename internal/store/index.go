package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

const (
	indexVersion = "1"
	indexDirName = ".requiem"
	indexReqFile = "index.yaml"
)

// kindIndex tracks the highest ID ever issued per kind. It is persisted so
// IDs stay monotonic even when requirement files are deleted.
type kindIndex struct {
	kinds map[string]int
}

// indexFile is the versioned on-disk shadow of kindIndex.
type indexFile struct {
	Version string                  `yaml:"_version"`
	Kinds   map[string]indexKindRow `yaml:"kinds,omitempty"`
}

type indexKindRow struct {
	LatestID int `yaml:"latest_id"`
}

func newKindIndex() *kindIndex {
	return &kindIndex{kinds: make(map[string]int)}
}

// loadKindIndex reads the persisted index. A missing file yields an empty
// index; the on-disk files remain the source of truth for existing IDs.
func loadKindIndex(path string) (*kindIndex, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return newKindIndex(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	var file indexFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	if file.Version != indexVersion {
		return nil, fmt.Errorf("unsupported index version %q", file.Version)
	}

	idx := newKindIndex()
	for kind, row := range file.Kinds {
		idx.kinds[kind] = row.LatestID
	}
	return idx, nil
}

func (i *kindIndex) latest(kind string) int { return i.kinds[kind] }

func (i *kindIndex) record(kind string, id int) {
	if id > i.kinds[kind] {
		i.kinds[kind] = id
	}
}

// save writes the index atomically, creating the holding directory first.
func (i *kindIndex) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	file := indexFile{Version: indexVersion, Kinds: make(map[string]indexKindRow, len(i.kinds))}
	for kind, id := range i.kinds {
		file.Kinds[kind] = indexKindRow{LatestID: id}
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending index file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace index: %w", err)
	}
	return nil
}
