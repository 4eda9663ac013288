package source

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ivlev/animexport/internal/project"
)

// Source provides an immutable snapshot of the project at call time.
type Source interface {
	Snapshot() (*project.Project, error)
}

// StaticSource serves copies of an in-memory project.
type StaticSource struct {
	mu sync.RWMutex
	p  *project.Project
}

func NewStaticSource(p *project.Project) *StaticSource {
	return &StaticSource{p: p}
}

// Update replaces the served project; later snapshots see the new document.
func (s *StaticSource) Update(p *project.Project) {
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
}

func (s *StaticSource) Snapshot() (*project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.p == nil {
		return nil, fmt.Errorf("no project loaded")
	}
	return s.p.Clone(), nil
}

// FileSource reads a project file, re-parsing only when its modification
// time changes.
type FileSource struct {
	path string

	mu      sync.Mutex
	cached  *project.Project
	modTime time.Time
}

func NewFileSource(path string) (*FileSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &FileSource{path: path}, nil
}

func (f *FileSource) Path() string {
	return f.path
}

func (f *FileSource) Snapshot() (*project.Project, error) {
	fi, err := os.Stat(f.path)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached == nil || !fi.ModTime().Equal(f.modTime) {
		p, err := project.ReadProject(f.path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.path, err)
		}
		f.cached = p
		f.modTime = fi.ModTime()
	}
	return f.cached.Clone(), nil
}
