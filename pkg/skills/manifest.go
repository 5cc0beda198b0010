package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Manifest is a file listing skill descriptors.
type Manifest struct {
	Skills []Descriptor `json:"skills" yaml:"skills" toml:"skills"`
}

// LoadManifest reads descriptors from a YAML, TOML or JSON file, chosen by
// extension. Relative content paths resolve against the manifest directory.
func LoadManifest(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	case ".toml":
		_, err = toml.Decode(string(data), &m)
	case ".json":
		err = json.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range m.Skills {
		d := &m.Skills[i]
		if d.ContentPath != "" && !filepath.IsAbs(d.ContentPath) {
			d.ContentPath = filepath.Join(dir, d.ContentPath)
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
	}
	return m.Skills, nil
}
