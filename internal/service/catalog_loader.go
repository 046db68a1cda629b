package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
)

// LoadCatalogFile reads a nested catalog tree from disk. Files ending in .json
// are decoded as JSON; anything else is treated as YAML.
func LoadCatalogFile(path string) (models.CatalogTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.CatalogTree{}, fmt.Errorf("read catalog file: %w", err)
	}
	return DecodeCatalog(data, filepath.Ext(path))
}

// DecodeCatalog decodes a catalog tree using the format implied by ext.
func DecodeCatalog(data []byte, ext string) (models.CatalogTree, error) {
	var tree models.CatalogTree
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &tree); err != nil {
			return models.CatalogTree{}, fmt.Errorf("decode catalog json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return models.CatalogTree{}, fmt.Errorf("decode catalog yaml: %w", err)
		}
	}
	if len(tree.Branches) == 0 {
		return models.CatalogTree{}, fmt.Errorf("catalog file has no branches")
	}
	return tree, nil
}
