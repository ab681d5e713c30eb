// Package cache stores the project listing of a GitLab host as a YAML file so
// that an export can be started without listing projects first.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnknownActivity is stored when the host did not report last activity.
const UnknownActivity = "unknown"

// Common errors.
var (
	ErrNotCached        = errors.New("cache: no cached project list")
	ErrProjectNotCached = errors.New("cache: project not in cached list")
)

// Project is the cached view of one project.
type Project struct {
	ID             int64  `yaml:"id"`
	Name           string `yaml:"name"`
	Path           string `yaml:"path"`
	Namespace      string `yaml:"namespace"`
	LastActivityAt string `yaml:"last_activity_at"`
}

// Date returns the date part of LastActivityAt, or the value unchanged when
// it is not a timestamp.
func (p Project) Date() string {
	if date, _, ok := strings.Cut(p.LastActivityAt, "T"); ok {
		return date
	}
	return p.LastActivityAt
}

// Document is the on-disk layout of a cache file.
type Document struct {
	GitLabURL string    `yaml:"gitlab_url"`
	Projects  []Project `yaml:"projects"`
}

// Find returns the project with the given id.
func (d *Document) Find(id int64) (Project, bool) {
	for _, p := range d.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return Project{}, false
}

// Store reads and writes the cache file of one host.
type Store struct {
	dir string
	url string
}

// NewStore returns a Store for the host at url, keeping its file in dir.
func NewStore(dir, url string) *Store {
	return &Store{dir: dir, url: url}
}

// Path returns the cache file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, Token(s.url)+".yaml")
}

// Save replaces the cached listing with projects.
func (s *Store) Save(projects []Project) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	data, err := yaml.Marshal(Document{GitLabURL: s.url, Projects: projects})
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	// Write to a sibling file and rename so readers never see a torn file.
	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// Load reads the cached listing. It returns ErrNotCached if there is none.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse cache %s: %w", s.Path(), err)
	}
	return &doc, nil
}

// Lookup returns the cached project with the given id.
func (s *Store) Lookup(id int64) (Project, error) {
	doc, err := s.Load()
	if err != nil {
		return Project{}, err
	}
	p, ok := doc.Find(id)
	if !ok {
		return Project{}, fmt.Errorf("%w: %d", ErrProjectNotCached, id)
	}
	return p, nil
}

// Remove deletes the cache file. A missing file is not an error.
func (s *Store) Remove() error {
	err := os.Remove(s.Path())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cache: %w", err)
	}
	return nil
}

// Token turns a base URL into a file system safe name:
// "https://gitlab.example.com:8443/" becomes "gitlab.example.com_8443".
func Token(url string) string {
	if _, rest, ok := strings.Cut(url, "://"); ok {
		url = rest
	}
	url = strings.TrimRight(url, "/")
	return strings.NewReplacer(":", "_", "/", "_").Replace(url)
}

// CleanName keeps only ASCII letters, digits, '_', '-' and '.' of name.
func CleanName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_', r == '-', r == '.':
			b.WriteRune(r)
		}
	}
	return b.String()
}
