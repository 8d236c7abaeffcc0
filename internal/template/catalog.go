// Package template loads operation templates from a YAML catalog, validates
// their dependency graphs, and expands them into work items for a lot.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/example/stitchflow/internal/domain"
)

// Catalog holds validated operation templates keyed by id.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]*domain.OperationTemplate
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{templates: make(map[string]*domain.OperationTemplate)}
}

// LoadDir loads every *.yaml/*.yml file under dir as a template. Templates
// are validated at load time; a single invalid file fails the whole load so
// a bad catalog is never partially visible.
func LoadDir(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read template dir: %w", err)
	}

	c := NewCatalog()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		tmpl, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		if err := c.Add(tmpl); err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
	}
	return c, nil
}

// Parse parses and validates a single YAML template document.
func Parse(data []byte) (*domain.OperationTemplate, error) {
	var tmpl domain.OperationTemplate
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTemplate, err)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// Add validates and registers a template.
func (c *Catalog) Add(tmpl *domain.OperationTemplate) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.templates[tmpl.ID]; exists {
		return fmt.Errorf("%w: template %s", domain.ErrAlreadyExists, tmpl.ID)
	}
	c.templates[tmpl.ID] = tmpl
	return nil
}

// Resolve returns the operation definitions of a template in sequence order.
func (c *Catalog) Resolve(templateID string) ([]domain.OperationDefinition, error) {
	tmpl, err := c.Get(templateID)
	if err != nil {
		return nil, err
	}
	ops := append([]domain.OperationDefinition(nil), tmpl.Operations...)
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Sequence < ops[j].Sequence })
	return ops, nil
}

// Get returns a template by id.
func (c *Catalog) Get(templateID string) (*domain.OperationTemplate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tmpl, ok := c.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("%w: template %s", domain.ErrNotFound, templateID)
	}
	return tmpl, nil
}

// List returns all template ids, sorted.
func (c *Catalog) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.templates))
	for id := range c.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
