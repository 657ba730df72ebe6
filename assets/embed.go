package assets

import (
	"embed"
)

//go:embed catalog.yaml
var FS embed.FS

// DefaultCatalogName is the embedded catalog file.
const DefaultCatalogName = "catalog.yaml"

// DefaultCatalog returns the raw bytes of the embedded glyph catalog.
func DefaultCatalog() ([]byte, error) {
	return FS.ReadFile(DefaultCatalogName)
}
