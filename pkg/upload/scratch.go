package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Scratch is a per-submission directory for transient copies of images.
// Close removes it and everything written into it.
type Scratch struct {
	Dir string

	mu sync.Mutex
	n  int
}

// NewScratch creates a fresh directory under base (os.TempDir() when empty).
func NewScratch(base string) (*Scratch, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, err
		}
	}
	dir, err := os.MkdirTemp(base, "vision-*")
	if err != nil {
		return nil, err
	}
	return &Scratch{Dir: dir}, nil
}

// Put writes data under a sanitized, sequence-prefixed name and returns its path.
func (s *Scratch) Put(name string, data []byte) (string, error) {
	s.mu.Lock()
	s.n++
	seq := s.n
	s.mu.Unlock()

	path := filepath.Join(s.Dir, fmt.Sprintf("%03d_%s", seq, sanitizeName(name)))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Scratch) Close() error {
	if s == nil || s.Dir == "" {
		return nil
	}
	return os.RemoveAll(s.Dir)
}

func sanitizeName(n string) string {
	out := make([]rune, 0, len(n))
	for _, r := range n {
		if r == '/' || r == '\\' || r == 0 {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 || string(out) == "." || string(out) == ".." {
		return "upload"
	}
	return string(out)
}
