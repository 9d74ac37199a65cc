package bundle

import (
	"fmt"
	"os"

	"github.com/PeerHerholz/neuroscout/internal/artifact"
)

// ManifestError reports a manifest entry that cannot be archived.
type ManifestError struct {
	Name   string
	Path   string
	Reason string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("bundle manifest: %s (%s): %s", e.Name, e.Path, e.Reason)
}

// ValidateManifest checks that every member is an existing regular file and
// that archive names are non-empty and unique.
func ValidateManifest(members []artifact.Member) error {
	seen := make(map[string]string, len(members))
	for _, m := range members {
		if m.Name == "" {
			return &ManifestError{Path: m.Path, Reason: "empty archive name"}
		}
		if prev, dup := seen[m.Name]; dup {
			return &ManifestError{Name: m.Name, Path: m.Path, Reason: "archive name collides with " + prev}
		}
		seen[m.Name] = m.Path

		info, err := os.Stat(m.Path)
		if err != nil {
			return &ManifestError{Name: m.Name, Path: m.Path, Reason: err.Error()}
		}
		if !info.Mode().IsRegular() {
			return &ManifestError{Name: m.Name, Path: m.Path, Reason: "not a regular file"}
		}
	}
	return nil
}
