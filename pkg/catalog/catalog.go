// Package catalog holds the material catalog and the delivery service area
// consulted by the relay tools and the storefront API.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/catalog.yaml
var defaultCatalogYAML []byte

// Material is one bulk product sold by the cubic yard.
type Material struct {
	ID          int     `yaml:"id" json:"id"`
	ProductID   int     `yaml:"product_id" json:"product_id"`
	Name        string  `yaml:"name" json:"name"`
	Type        string  `yaml:"type" json:"type"`
	Description string  `yaml:"description" json:"description"`
	Price       float64 `yaml:"price" json:"price"`
	Unit        string  `yaml:"unit" json:"unit"`
	Minimum     float64 `yaml:"minimum" json:"minimum"`
}

type catalogFile struct {
	DeliveryFee float64    `yaml:"delivery_fee"`
	Materials   []Material `yaml:"materials"`
}

// Catalog is a concurrency-safe, replaceable set of materials.
type Catalog struct {
	mu          sync.RWMutex
	materials   []Material
	byProduct   map[int]Material
	byID        map[int]Material
	deliveryFee float64
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	c := &Catalog{}
	if err := c.load(data); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces the contents from a YAML file. On error the current
// contents are kept.
func (c *Catalog) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}
	return c.load(data)
}

func (c *Catalog) load(data []byte) error {
	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(doc.Materials) == 0 {
		return fmt.Errorf("catalog has no materials")
	}
	if doc.DeliveryFee < 0 {
		return fmt.Errorf("delivery_fee cannot be negative")
	}

	byProduct := make(map[int]Material, len(doc.Materials))
	byID := make(map[int]Material, len(doc.Materials))
	for i, m := range doc.Materials {
		if m.Name == "" {
			return fmt.Errorf("material %d: name is required", i)
		}
		if m.ProductID <= 0 {
			return fmt.Errorf("material %q: product_id must be positive", m.Name)
		}
		if m.Price < 0 {
			return fmt.Errorf("material %q: price cannot be negative", m.Name)
		}
		if _, dup := byProduct[m.ProductID]; dup {
			return fmt.Errorf("duplicate product_id %d", m.ProductID)
		}
		if m.Unit == "" {
			m.Unit = "cubic yard"
		}
		if m.Minimum <= 0 {
			m.Minimum = 1
		}
		doc.Materials[i] = m
		byProduct[m.ProductID] = m
		if m.ID > 0 {
			byID[m.ID] = m
		}
	}

	sort.SliceStable(doc.Materials, func(i, j int) bool {
		return doc.Materials[i].ProductID < doc.Materials[j].ProductID
	})

	c.mu.Lock()
	c.materials = doc.Materials
	c.byProduct = byProduct
	c.byID = byID
	c.deliveryFee = doc.DeliveryFee
	c.mu.Unlock()

	return nil
}

// All returns a copy of every material ordered by product ID.
func (c *Catalog) All() []Material {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Material, len(c.materials))
	copy(out, c.materials)
	return out
}

// ByProductID looks up a material by its storefront product ID.
func (c *Catalog) ByProductID(productID int) (Material, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.byProduct[productID]
	return m, ok
}

// Lookup resolves either a product ID or an internal catalog ID, preferring
// the product ID.
func (c *Catalog) Lookup(id int) (Material, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if m, ok := c.byProduct[id]; ok {
		return m, true
	}
	m, ok := c.byID[id]
	return m, ok
}

// DeliveryFee is the flat delivery charge per order.
func (c *Catalog) DeliveryFee() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deliveryFee
}

// Len returns the number of materials.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.materials)
}
