package report

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/PeerHerholz/neuroscout/internal/bids"
)

// PathBuilder resolves where a report artifact is written and where it is
// published.
type PathBuilder interface {
	Build(kind, ext string) (path, url string, err error)
}

// PathBuilderFunc creates a PathBuilder for one run.
type PathBuilderFunc func(root, domain, hashID string, entities map[string]string) PathBuilder

// Paths is the default PathBuilder. Files are named from the run's BIDS
// entities; URLs live under {domain}/reports/{hash_id}/.
type Paths struct {
	Root     string
	Domain   string
	HashID   string
	Entities map[string]string
}

// NewPaths is the default PathBuilderFunc.
func NewPaths(root, domain, hashID string, entities map[string]string) PathBuilder {
	return &Paths{Root: root, Domain: domain, HashID: hashID, Entities: entities}
}

func (p *Paths) Build(kind, ext string) (string, string, error) {
	if kind == "" || ext == "" {
		return "", "", fmt.Errorf("build path: kind and extension are required")
	}
	if p.Entities["subject"] == "" {
		return "", "", fmt.Errorf("build path: run has no subject entity")
	}
	name := bids.FileName(p.Entities, kind, ext)
	if strings.ContainsAny(name, `/\`) {
		return "", "", fmt.Errorf("build path: entity values produce an invalid file name %q", name)
	}
	u, err := url.JoinPath(strings.TrimRight(p.Domain, "/"), "reports", p.HashID, name)
	if err != nil {
		return "", "", fmt.Errorf("build url: %w", err)
	}
	return filepath.Join(p.Root, name), u, nil
}
