package artifact

import (
	"fmt"
	"os"
)

// Scratch is a private temporary directory owned by a single job
// invocation. Close removes it and everything beneath it.
type Scratch struct {
	Dir string
}

// NewScratch creates a fresh directory under root ("" means os.TempDir).
func NewScratch(root, prefix string) (*Scratch, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create scratch root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, prefix+"-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scratch{Dir: dir}, nil
}

// Close removes the directory. It is safe to call more than once.
func (s *Scratch) Close() error {
	if s == nil || s.Dir == "" {
		return nil
	}
	err := os.RemoveAll(s.Dir)
	s.Dir = ""
	return err
}
