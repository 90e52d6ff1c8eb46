package voxel

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ManifestEntry is one voxel-type definition in configs/voxel_types.json.
type ManifestEntry struct {
	Name        string `json:"name"`
	Texture     string `json:"texture"`
	Unwrap      bool   `json:"unwrap,omitempty"`
	Emission    int    `json:"emission,omitempty"`
	Transparent bool   `json:"transparent,omitempty"`
	Density     *bool  `json:"density,omitempty"`
}

const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["name", "texture"],
    "additionalProperties": false,
    "properties": {
      "name": {"type": "string", "minLength": 1, "maxLength": 127},
      "texture": {"type": "string", "minLength": 1},
      "unwrap": {"type": "boolean"},
      "emission": {"type": "integer", "minimum": 0, "maximum": 16},
      "transparent": {"type": "boolean"},
      "density": {"type": "boolean"}
    }
  }
}`

var compiledManifestSchema = jsonschema.MustCompileString("voxel_types.schema.json", manifestSchema)

// LoadManifest reads, validates, and registers the simple voxel types from a
// JSON manifest. Returns the number of types registered.
func LoadManifest(path string, reg *Registry) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return RegisterManifest(raw, reg)
}

func RegisterManifest(raw []byte, reg *Registry) (int, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("voxel_types.json: %w", err)
	}
	if err := compiledManifestSchema.Validate(doc); err != nil {
		return 0, fmt.Errorf("voxel_types.json: %w", err)
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return 0, fmt.Errorf("voxel_types.json: %w", err)
	}
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		density := true
		if e.Density != nil {
			density = *e.Density
		}
		reg.Add(NewSimpleType(name, e.Texture, e.Unwrap, LightLevel(e.Emission), e.Transparent, density))
	}
	return len(entries), nil
}
