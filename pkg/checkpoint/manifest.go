package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const manifestName = "MANIFEST"

// Manifest lists the currently valid checkpoint files, in creation
// order (oldest first).
type Manifest struct {
	Checkpoints []string `json:"checkpoints"`
}

func manifestPath(dir string) string { return filepath.Join(dir, manifestName) }

// LoadManifest reads dir's manifest, returning an empty Manifest if
// none exists yet.
func LoadManifest(dir string) (Manifest, error) {
	b, err := os.ReadFile(manifestPath(dir))
	if os.IsNotExist(err) {
		return Manifest{}, nil
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("checkpoint: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("checkpoint: decode manifest: %w", err)
	}
	return m, nil
}

// Save publishes the manifest atomically: write to a temp file in the
// same directory, fsync, then rename over the published path.
func (m Manifest) Save(dir string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "MANIFEST-*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: create manifest tmp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, manifestPath(dir)); err != nil {
		return fmt.Errorf("checkpoint: publish manifest: %w", err)
	}
	return nil
}

// Latest returns the newest (last) checkpoint file name, or "" if the
// manifest is empty.
func (m Manifest) Latest() string {
	if len(m.Checkpoints) == 0 {
		return ""
	}
	return m.Checkpoints[len(m.Checkpoints)-1]
}
