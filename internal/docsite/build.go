package docsite

import (
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/russross/blackfriday/v2"
	"go.uber.org/zap"

	"github.com/requiemdev/requiem/internal/requirement"
)

// Builder renders requirements into a static HTML site.
type Builder struct {
	cfg    Config
	digits int
	logger *zap.Logger
}

// NewBuilder constructs a Builder for the given configuration. digits is
// the HRID padding width used for filenames and labels.
func NewBuilder(cfg Config, digits int, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{cfg: cfg, digits: digits, logger: logger}
}

type indexData struct {
	Project    string
	Copyright  string
	Author     string
	Theme      string
	Extensions []string
	Kinds      []kindGroup
}

type kindGroup struct {
	Kind  string
	Pages []pageRef
}

type pageRef struct {
	Hrid     string
	Title    string
	Filename string
}

type pageData struct {
	Project   string
	Copyright string
	Author    string
	Theme     string
	Hrid      string
	UUID      string
	Created   string
	Tags      []string
	Body      template.HTML
	Parents   []pageRef
}

// Build renders every non-excluded requirement into outDir, together with an
// index page, the theme stylesheet, and any configured static assets.
func (b *Builder) Build(reqs []*requirement.Requirement, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	pageTmpl, err := b.lookupTemplate("page.html.tmpl", pageTemplate)
	if err != nil {
		return err
	}
	indexTmpl, err := b.lookupTemplate("index.html.tmpl", indexTemplate)
	if err != nil {
		return err
	}

	included := make([]*requirement.Requirement, 0, len(reqs))
	for _, req := range reqs {
		name := req.Hrid().Format(b.digits) + ".md"
		excluded, err := b.excluded(name)
		if err != nil {
			return err
		}
		if excluded {
			b.logger.Debug("excluding requirement from site", zap.String("file", name))
			continue
		}
		included = append(included, req)
	}

	byUUID := make(map[string]*requirement.Requirement, len(included))
	for _, req := range included {
		byUUID[req.UUID().String()] = req
	}

	for _, req := range included {
		if err := b.renderPage(pageTmpl, req, byUUID, outDir); err != nil {
			return err
		}
	}

	if err := b.renderIndex(indexTmpl, included, outDir); err != nil {
		return err
	}
	if err := b.writeTheme(outDir); err != nil {
		return err
	}
	if err := b.copyStatic(outDir); err != nil {
		return err
	}

	b.logger.Info("site built",
		zap.String("out", outDir),
		zap.Int("pages", len(included)),
	)
	return nil
}

// excluded matches the source filename against the configured globs.
func (b *Builder) excluded(name string) (bool, error) {
	for _, pattern := range b.cfg.ExcludePatterns {
		ok, err := filepath.Match(pattern, name)
		if err != nil {
			return false, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// lookupTemplate returns the first override found in templates_path, or the
// built-in fallback.
func (b *Builder) lookupTemplate(name, fallback string) (*template.Template, error) {
	for _, dir := range b.cfg.TemplatesPath {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		tmpl, err := template.New(name).Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse template override %s: %w", path, err)
		}
		return tmpl, nil
	}
	return template.Must(template.New(name).Parse(fallback)), nil
}

func (b *Builder) renderPage(tmpl *template.Template, req *requirement.Requirement, byUUID map[string]*requirement.Requirement, outDir string) error {
	data := pageData{
		Project:   b.cfg.Project,
		Copyright: b.cfg.Copyright,
		Author:    b.cfg.Author,
		Theme:     b.themeName(),
		Hrid:      req.Hrid().Format(b.digits),
		UUID:      req.UUID().String(),
		Created:   req.Created().Format("2006-01-02"),
		Tags:      req.Tags(),
		Body:      template.HTML(blackfriday.Run([]byte(req.Content()))), //nolint:gosec // rendered from trusted local documents
	}

	for _, parentID := range req.ParentUUIDs() {
		link := req.Parents()[parentID]
		ref := pageRef{Hrid: link.Hrid.Format(b.digits)}
		if parent, ok := byUUID[parentID.String()]; ok {
			ref.Filename = parent.Hrid().Format(b.digits) + ".html"
		}
		data.Parents = append(data.Parents, ref)
	}

	return b.renderFile(tmpl, data, filepath.Join(outDir, data.Hrid+".html"))
}

func (b *Builder) renderIndex(tmpl *template.Template, reqs []*requirement.Requirement, outDir string) error {
	data := indexData{
		Project:    b.cfg.Project,
		Copyright:  b.cfg.Copyright,
		Author:     b.cfg.Author,
		Theme:      b.themeName(),
		Extensions: b.cfg.Extensions,
	}

	var current *kindGroup
	for _, req := range reqs { // reqs arrive sorted by kind then ID
		if current == nil || current.Kind != req.Hrid().Kind {
			data.Kinds = append(data.Kinds, kindGroup{Kind: req.Hrid().Kind})
			current = &data.Kinds[len(data.Kinds)-1]
		}
		current.Pages = append(current.Pages, pageRef{
			Hrid:     req.Hrid().Format(b.digits),
			Title:    firstHeading(req.Content()),
			Filename: req.Hrid().Format(b.digits) + ".html",
		})
	}

	return b.renderFile(tmpl, data, filepath.Join(outDir, "index.html"))
}

func (b *Builder) renderFile(tmpl *template.Template, data any, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := tmpl.Execute(f, data); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	return f.Close()
}

func (b *Builder) themeName() string {
	if _, ok := themes[b.cfg.HTMLTheme]; ok {
		return b.cfg.HTMLTheme
	}
	return defaultTheme
}

func (b *Builder) writeTheme(outDir string) error {
	staticDir := filepath.Join(outDir, "_static")
	if err := os.MkdirAll(staticDir, 0o755); err != nil {
		return fmt.Errorf("create static directory: %w", err)
	}

	css, ok := themes[b.cfg.HTMLTheme]
	if !ok {
		b.logger.Warn("unknown html_theme, using default",
			zap.String("html_theme", b.cfg.HTMLTheme),
			zap.String("default", defaultTheme),
		)
		css = themes[defaultTheme]
	}
	return os.WriteFile(filepath.Join(staticDir, "theme.css"), []byte(css), 0o644)
}

// copyStatic copies every configured static directory into <out>/_static.
func (b *Builder) copyStatic(outDir string) error {
	staticDir := filepath.Join(outDir, "_static")
	for _, src := range b.cfg.HTMLStaticPath {
		err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			dst := filepath.Join(staticDir, rel)
			if d.IsDir() {
				return os.MkdirAll(dst, 0o755)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			return os.WriteFile(dst, data, 0o644)
		})
		if err != nil {
			return fmt.Errorf("copy static path %s: %w", src, err)
		}
	}
	return nil
}

// firstHeading extracts the first markdown heading for index listings.
func firstHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return ""
}
