// internal/catalog/catalog.go
//
// Provides token catalog management for the round generator.
//
// Responsibilities:
//   - Load the glyph catalog from a file given on the command line or fall
//     back to the embedded default.
//   - Validate it once into a read-only *puzzle.Catalog shared by every request.
//   - Supply small helpers like Stats and AssetPath.
//
// File formats:
//   - ".yaml" / ".yml": a list of {id, attributes} mappings.
//   - ".json":          an array of {"id": ..., "attributes": [...]} objects.
//
// Initialization runs once (sync.Once); the catalog never changes afterwards.

package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/robalobadob/mists/assets"
	"github.com/robalobadob/mists/internal/puzzle"
)

// ErrUnknownFormat is returned for catalog files that are neither YAML nor JSON.
var ErrUnknownFormat = errors.New("catalog: unknown file format")

var (
	initOnce   sync.Once
	loaded     *puzzle.Catalog
	loadedFrom string
	initialErr error
)

// Init loads the catalog exactly once. An empty path selects the embedded
// default. Later calls return the first result regardless of path.
func Init(path string) error {
	initOnce.Do(func() {
		loaded, initialErr = Load(path)
		if initialErr == nil {
			loadedFrom = path
			if loadedFrom == "" {
				loadedFrom = "embedded:" + assets.DefaultCatalogName
			}
		}
	})
	return initialErr
}

// Get returns the catalog loaded by Init, or nil before a successful Init.
func Get() *puzzle.Catalog {
	return loaded
}

// Source describes where the loaded catalog came from.
func Source() string {
	return loadedFrom
}

// Load reads and validates a catalog without touching the package state.
func Load(path string) (*puzzle.Catalog, error) {
	if path == "" {
		data, err := assets.DefaultCatalog()
		if err != nil {
			return nil, fmt.Errorf("read embedded catalog: %w", err)
		}
		return Parse(data, ".yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes data in the format named by ext (".yaml", ".yml" or ".json").
func Parse(data []byte, ext string) (*puzzle.Catalog, error) {
	var tokens []puzzle.Token

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &tokens); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&tokens); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}

	return puzzle.NewCatalog(tokens)
}

// Stats returns counts of the loaded catalog: (tokens, distinct attributes).
func Stats() (tokenCount int, attributeCount int) {
	if loaded == nil {
		return 0, 0
	}
	return loaded.Len(), len(loaded.Attributes())
}

// AssetPath is the image file the UI shows for a token id.
func AssetPath(id string) string {
	return id + ".png"
}
