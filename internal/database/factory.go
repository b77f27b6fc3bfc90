package database

import (
	"fmt"
	"os"
	"path/filepath"

	"arc-go/internal/arc"
	"arc-go/internal/config"
)

// NewIndexStoreFromConfig creates an IndexStore implementation based on the index config type.
func NewIndexStoreFromConfig(cfg config.IndexConfig, hostID string, opts ...Option) (arc.IndexStore, error) {
	switch cfg.Type {
	case "", "json":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("dir required for json index")
		}
		s, err := NewJSONIndexStore(cfg.Dir, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("dir required for sqlite index")
		}
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		s, err := NewSQLiteIndexStore(filepath.Join(cfg.Dir, hostID+".db"), opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		s, err := NewMemoryIndexStore(opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown index type: %s", cfg.Type)
	}
}
