package requirement

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/requiemdev/requiem/internal/hrid"
)

const frontMatterVersion = "1"

var (
	// ErrEmptyDocument is returned when the input contains no data at all.
	ErrEmptyDocument = errors.New("document is empty")
	// ErrMissingFrontMatter is returned when the document does not open with
	// a frontmatter fence.
	ErrMissingFrontMatter = errors.New("expected frontmatter starting with '---'")
	// ErrUnterminatedFrontMatter is returned when the closing fence is missing.
	ErrUnterminatedFrontMatter = errors.New("frontmatter has no closing '---'")
	// ErrUnsupportedVersion is returned for frontmatter written by a newer tool.
	ErrUnsupportedVersion = errors.New("unsupported frontmatter version")
)

// frontMatter is the versioned on-disk shadow of the identity and link
// fields. It is deliberately decoupled from Requirement so the file format
// can evolve without touching the domain type.
type frontMatter struct {
	Version string       `yaml:"_version"`
	UUID    string       `yaml:"uuid"`
	Created time.Time    `yaml:"created"`
	Tags    []string     `yaml:"tags,omitempty"`
	Parents []parentNode `yaml:"parents,omitempty"`
}

type parentNode struct {
	UUID        string `yaml:"uuid"`
	Fingerprint string `yaml:"fingerprint"`
	Hrid        string `yaml:"hrid"`
}

// Decode reads a markdown requirement document. The HRID is supplied by the
// caller because it lives in the filename, not the document.
func Decode(r io.Reader, h hrid.Hrid) (*Requirement, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		return nil, ErrEmptyDocument
	}
	if strings.TrimSpace(scanner.Text()) != "---" {
		return nil, ErrMissingFrontMatter
	}

	var frontLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			closed = true
			break
		}
		frontLines = append(frontLines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if !closed {
		return nil, ErrUnterminatedFrontMatter
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(strings.Join(frontLines, "\n")), &fm); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if fm.Version != frontMatterVersion {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, fm.Version)
	}

	id, err := uuid.Parse(fm.UUID)
	if err != nil {
		return nil, fmt.Errorf("parse uuid: %w", err)
	}

	req := NewWithIdentity(id, h, fm.Created, strings.Join(bodyLines, "\n"))
	req.SetTags(fm.Tags)
	for _, p := range fm.Parents {
		parentUUID, err := uuid.Parse(p.UUID)
		if err != nil {
			return nil, fmt.Errorf("parse parent uuid: %w", err)
		}
		parentHrid, err := hrid.Parse(p.Hrid)
		if err != nil {
			return nil, fmt.Errorf("parse parent hrid: %w", err)
		}
		req.AddParent(parentUUID, Parent{Hrid: parentHrid, Fingerprint: p.Fingerprint})
	}

	return req, nil
}

// Encode writes the requirement as a markdown document with YAML
// frontmatter. Decode(Encode(r)) round-trips.
func (r *Requirement) Encode(w io.Writer, digits int) error {
	fm := frontMatter{
		Version: frontMatterVersion,
		UUID:    r.uuid.String(),
		Created: r.created,
		Tags:    r.Tags(),
	}
	for _, parentUUID := range r.ParentUUIDs() {
		p := r.parents[parentUUID]
		fm.Parents = append(fm.Parents, parentNode{
			UUID:        parentUUID.String(),
			Fingerprint: p.Fingerprint,
			Hrid:        p.Hrid.Format(digits),
		})
	}

	encoded, err := yaml.Marshal(&fm)
	if err != nil {
		return fmt.Errorf("marshal frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(encoded)
	b.WriteString("---\n")
	b.WriteString(r.content)
	b.WriteString("\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}
