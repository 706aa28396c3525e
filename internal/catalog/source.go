// Package catalog loads the product catalog and produces per-run snapshots
// from a YAML file or from Postgres.
package catalog

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/fenceworks/estimator/internal/model"
)

// Source produces an immutable snapshot of the catalog for one product type
// and optional style. Each call reflects one consistent read.
type Source interface {
	Snapshot(ctx context.Context, productCode, styleCode string) (*model.Snapshot, error)
}

// FileSource serves snapshots from a catalog document loaded into memory.
type FileSource struct {
	cat *model.Catalog
}

// NewFileSource wraps an already loaded catalog.
func NewFileSource(cat *model.Catalog) *FileSource {
	return &FileSource{cat: cat}
}

// LoadFile reads a YAML catalog document from path.
func LoadFile(path string) (*model.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read file %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*model.Catalog, error) {
	var cat model.Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, eris.Wrap(err, "catalog: parse yaml")
	}
	return &cat, nil
}

// OpenFile loads path into a FileSource.
func OpenFile(path string) (*FileSource, error) {
	cat, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewFileSource(cat), nil
}

// Catalog returns the loaded document.
func (s *FileSource) Catalog() *model.Catalog { return s.cat }

// Snapshot implements Source.
func (s *FileSource) Snapshot(_ context.Context, productCode, styleCode string) (*model.Snapshot, error) {
	return s.cat.Snapshot(productCode, styleCode)
}
