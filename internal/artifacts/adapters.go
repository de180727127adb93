package artifacts

import (
	"fmt"
	"path/filepath"
	"sort"
)

// Locate returns the files in dir matching pattern, sorted by name so the
// selection does not depend on directory listing order.
func Locate(dir, pattern string, kind ArtifactKind) ([]Artifact, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(matches)

	found := make([]Artifact, 0, len(matches))
	for _, match := range matches {
		found = append(found, Artifact{
			Kind: kind,
			URI:  FileURI(match),
			Name: filepath.Base(match),
		})
	}
	return found, nil
}

// Latest returns the last artifact in name order, or false when none match.
func Latest(dir, pattern string, kind ArtifactKind) (Artifact, bool, error) {
	found, err := Locate(dir, pattern, kind)
	if err != nil {
		return Artifact{}, false, err
	}
	if len(found) == 0 {
		return Artifact{}, false, nil
	}
	return found[len(found)-1], true, nil
}
