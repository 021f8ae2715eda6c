// Package docsite renders a requirement set as a static HTML site.
//
// The build is driven by a documentation configuration file holding the
// project metadata, enabled extensions, template and static-asset search
// paths, exclusion globs, and theme name. A base configuration may be
// combined with an overlay that adds keys; the two must agree on every key
// they share.
package docsite

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingKey is returned when a required string key is empty.
	ErrMissingKey = errors.New("configuration key must not be empty")
	// ErrEmptyElement is returned when a list key contains an empty string.
	ErrEmptyElement = errors.New("configuration list elements must not be empty")
	// ErrConflict is returned when a base and overlay configuration define
	// the same key with different values.
	ErrConflict = errors.New("configurations define conflicting values")
)

// Config is the documentation build configuration.
//
// Whether a named theme or extension is actually installed is not checked
// here; that is the concern of whatever consumes the rendered site.
type Config struct {
	// Project is the display name of the documented project.
	Project string `yaml:"project"`

	// Copyright is the copyright notice rendered in page footers.
	Copyright string `yaml:"copyright"`

	// Author is the author name rendered in page footers.
	Author string `yaml:"author"`

	// Extensions names the documentation plugins to enable.
	Extensions []string `yaml:"extensions"`

	// TemplatesPath lists directories searched for template overrides,
	// first match wins.
	TemplatesPath []string `yaml:"templates_path"`

	// ExcludePatterns lists glob patterns of source files excluded from the
	// build.
	ExcludePatterns []string `yaml:"exclude_patterns"`

	// HTMLTheme names the visual theme applied to generated pages.
	HTMLTheme string `yaml:"html_theme"`

	// HTMLStaticPath lists directories of static assets copied into the
	// output tree.
	HTMLStaticPath []string `yaml:"html_static_path"`
}

// LoadConfig reads and validates a documentation configuration file.
func LoadConfig(path string) (Config, error) {
	cfg, err := decodeConfig(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOverlay reads a documentation configuration file without requiring it
// to be complete. Overlays may set only the keys they add; validation happens
// after Merge.
func LoadOverlay(path string) (Config, error) {
	return decodeConfig(path)
}

func decodeConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read docs config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse docs config: %w", err)
	}
	return cfg, nil
}

// Validate enforces the structural rules: every string key is non-empty and
// every list element is a non-empty string.
func (c Config) Validate() error {
	for key, value := range map[string]string{
		"project":    c.Project,
		"copyright":  c.Copyright,
		"author":     c.Author,
		"html_theme": c.HTMLTheme,
	} {
		if value == "" {
			return fmt.Errorf("%w: %s", ErrMissingKey, key)
		}
	}

	for key, values := range map[string][]string{
		"extensions":       c.Extensions,
		"templates_path":   c.TemplatesPath,
		"exclude_patterns": c.ExcludePatterns,
		"html_static_path": c.HTMLStaticPath,
	} {
		for _, v := range values {
			if v == "" {
				return fmt.Errorf("%w: %s", ErrEmptyElement, key)
			}
		}
	}

	return nil
}

// Merge combines a base configuration with an overlay. The overlay may set
// keys the base leaves empty; any key defined by both must hold the same
// value. The merged result is validated before being returned.
func Merge(base, overlay Config) (Config, error) {
	out := base

	merge := func(key string, dst *string, overlayValue string) error {
		if overlayValue == "" {
			return nil
		}
		if *dst != "" && *dst != overlayValue {
			return fmt.Errorf("%w for %s: %q vs %q", ErrConflict, key, *dst, overlayValue)
		}
		*dst = overlayValue
		return nil
	}

	mergeList := func(key string, dst *[]string, overlayValue []string) error {
		if len(overlayValue) == 0 {
			return nil
		}
		if len(*dst) > 0 && !slices.Equal(*dst, overlayValue) {
			return fmt.Errorf("%w for %s: %v vs %v", ErrConflict, key, *dst, overlayValue)
		}
		*dst = slices.Clone(overlayValue)
		return nil
	}

	for _, err := range []error{
		merge("project", &out.Project, overlay.Project),
		merge("copyright", &out.Copyright, overlay.Copyright),
		merge("author", &out.Author, overlay.Author),
		merge("html_theme", &out.HTMLTheme, overlay.HTMLTheme),
		mergeList("extensions", &out.Extensions, overlay.Extensions),
		mergeList("templates_path", &out.TemplatesPath, overlay.TemplatesPath),
		mergeList("exclude_patterns", &out.ExcludePatterns, overlay.ExcludePatterns),
		mergeList("html_static_path", &out.HTMLStaticPath, overlay.HTMLStaticPath),
	} {
		if err != nil {
			return Config{}, err
		}
	}

	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}
