package vector

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

const (
	indexFileName    = "annotations.vec"
	manifestFileName = "manifest.json"
)

var (
	// ErrIndexMissing is returned when the index artifacts have not
	// been built yet.
	ErrIndexMissing = errors.New("vector: index not built")

	// ErrIndexMismatch is returned when the index and the manifest
	// disagree, which means a build was interrupted or the artifacts
	// were modified independently.
	ErrIndexMismatch = errors.New("vector: index and manifest out of sync")
)

// Manifest records what the index was built from so searches can map
// hits back to content rows and detect stale artifacts.
type Manifest struct {
	Model     string   `json:"model"`
	Dimension int      `json:"dimension"`
	Count     int      `json:"count"`
	IDs       []string `json:"ids"`
}

func indexPath(dir string) string    { return filepath.Join(dir, indexFileName) }
func manifestPath(dir string) string { return filepath.Join(dir, manifestFileName) }

func loadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIndexMissing
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if len(m.IDs) != m.Count {
		return nil, fmt.Errorf("%w: manifest lists %d ids for count %d", ErrIndexMismatch, len(m.IDs), m.Count)
	}
	return &m, nil
}

// saveManifest writes through a temp file and renames so a crash never
// leaves a partial manifest next to a full index.
func saveManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := manifestPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, manifestPath(dir))
}

// normalize scales the vector to unit length so the dot product equals
// cosine similarity. Zero vectors are left untouched.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
