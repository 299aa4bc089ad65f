package objects

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mohammed-shakir/heatstress-map/internal/core/executor"
	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
)

// Catalog holds the measure types offered by the backend. It is loaded once
// per session with Init and dropped with Reset.
type Catalog struct {
	exec executor.Interface

	mu     sync.RWMutex
	loaded bool
	types  []model.MeasureType
	byName map[string]model.MeasureType
}

func NewCatalog(exec executor.Interface) *Catalog {
	return &Catalog{exec: exec}
}

// Init fetches the catalog unless it is already loaded.
func (c *Catalog) Init(ctx context.Context) error {
	if c.IsLoaded() {
		return nil
	}
	body, _, err := c.exec.Get(ctx, "measures", nil, "application/json")
	if err != nil {
		return fmt.Errorf("fetch measure types: %w", err)
	}
	var types []model.MeasureType
	if err := json.Unmarshal(body, &types); err != nil {
		return fmt.Errorf("decode measure types: %w", err)
	}
	c.Set(types)
	return nil
}

// Set installs types directly and marks the catalog loaded.
func (c *Catalog) Set(types []model.MeasureType) {
	byName := make(map[string]model.MeasureType, len(types))
	for _, t := range types {
		byName[t.Name] = t
	}
	c.mu.Lock()
	c.types = append([]model.MeasureType(nil), types...)
	c.byName = byName
	c.loaded = true
	c.mu.Unlock()
}

func (c *Catalog) IsLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

func (c *Catalog) Reset() {
	c.mu.Lock()
	c.loaded = false
	c.types = nil
	c.byName = nil
	c.mu.Unlock()
}

func (c *Catalog) Lookup(name string) (model.MeasureType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byName[name]
	return t, ok
}

func (c *Catalog) Types() []model.MeasureType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.MeasureType(nil), c.types...)
}
