package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

// Manifest is the optional JSON sidecar shipped next to a model file. It
// pins the model checksum and names the output classes.
type Manifest struct {
	Model      string   `json:"model"`
	SHA256     string   `json:"sha256,omitempty"`
	SampleRate int      `json:"sample_rate,omitempty"`
	Labels     []string `json:"labels,omitempty"`
}

// ManifestPathFor returns the sidecar path for a model file:
// models/classifier.onnx -> models/classifier.json.
func ManifestPathFor(modelPath string) string {
	ext := filepath.Ext(modelPath)
	return strings.TrimSuffix(modelPath, ext) + ".json"
}

// LoadManifest reads a sidecar manifest. A missing file is reported with an
// error wrapping os.ErrNotExist so callers can treat it as optional.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %q: %w", path, err)
	}

	var mf Manifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %q: %w", path, err)
	}

	mf.SHA256 = strings.ToLower(strings.TrimSpace(mf.SHA256))
	if mf.SHA256 != "" && !isSHA256Hex(mf.SHA256) {
		return Manifest{}, fmt.Errorf("manifest %q: invalid sha256 %q", path, mf.SHA256)
	}

	return mf, nil
}

// LoadManifestFor loads the sidecar of modelPath if one exists. ok is false
// when there is no sidecar.
func LoadManifestFor(modelPath string) (mf Manifest, ok bool, err error) {
	mf, err = LoadManifest(ManifestPathFor(modelPath))
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, err
	}

	return mf, true, nil
}

// Verify checks m against the pinned checksum, if any.
func (mf Manifest) Verify(m *Model) error {
	if mf.SHA256 == "" {
		return nil
	}
	if m.SHA256() != mf.SHA256 {
		return fmt.Errorf("model checksum mismatch: expected %s got %s", mf.SHA256, m.SHA256())
	}

	return nil
}

// Label returns the class name for index i, or "class_<i>" when unnamed.
func (mf Manifest) Label(i int) string {
	if i >= 0 && i < len(mf.Labels) && mf.Labels[i] != "" {
		return mf.Labels[i]
	}

	return fmt.Sprintf("class_%d", i)
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}

	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}
