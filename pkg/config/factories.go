package config

import (
	"fmt"

	"github.com/marmos91/snapfs/pkg/catalog"
	badgercat "github.com/marmos91/snapfs/pkg/catalog/badger"
	"github.com/marmos91/snapfs/pkg/catalog/memory"
)

// NewCatalog creates a snapshot catalog from the configuration.
//
// The catalog type is selected by cfg.Type; only the matching
// type-specific section is consulted.
func NewCatalog(cfg CatalogConfig) (catalog.Catalog, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "badger":
		cat, err := badgercat.New(cfg.Badger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger catalog: %w", err)
		}
		return cat, nil
	default:
		return nil, fmt.Errorf("unknown catalog type: %q", cfg.Type)
	}
}
