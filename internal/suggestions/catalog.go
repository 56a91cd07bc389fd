package suggestions

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// DefaultPage is used when a page type has no entry of its own.
const DefaultPage = "default"

// Catalog holds the fixed per-page and per-intent suggestion lists.
type Catalog struct {
	Pages   map[string][]string `yaml:"pages"`
	Intents map[string][]string `yaml:"intents"`
}

// LoadCatalog parses a YAML catalog. A default page entry is required.
func LoadCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse suggestion catalog: %w", err)
	}
	if len(c.Pages[DefaultPage]) == 0 {
		return Catalog{}, fmt.Errorf("suggestion catalog: %q page is empty", DefaultPage)
	}
	return c, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() Catalog {
	c, err := LoadCatalog(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Catalog) page(name string) []string {
	if items, ok := c.Pages[strings.ToLower(strings.TrimSpace(name))]; ok && len(items) > 0 {
		return items
	}
	return c.Pages[DefaultPage]
}

func (c Catalog) intent(name string) []string {
	return c.Intents[strings.ToLower(strings.TrimSpace(name))]
}
