// Package attack drives synthetic attack payloads against configured targets
// so that the edge's detection and defense can be exercised end to end.
package attack

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmerrifield20/EdgeSentinel/internal/detect"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Placement is where a payload is carried in the outbound request.
type Placement string

const (
	PlacementQuery  Placement = "query"
	PlacementPath   Placement = "path"
	PlacementBody   Placement = "body"
	PlacementHeader Placement = "header"
)

func (p Placement) valid() bool {
	switch p {
	case PlacementQuery, PlacementPath, PlacementBody, PlacementHeader:
		return true
	}
	return false
}

// Catalog defaults applied when an entry leaves a field unset.
const (
	defaultCount       = 3
	defaultMaxAttempts = 5
	defaultDelay       = 100 * time.Millisecond
)

// Entry is one category's payload list and run parameters.
type Entry struct {
	Category     detect.Category
	Placement    Placement
	MaxAttempts  int
	DefaultCount int
	Delay        time.Duration
	Payloads     []string
}

// Attempts returns how many payloads a run with count sends. A count of zero
// or less selects DefaultCount.
func (e *Entry) Attempts(count int) int {
	if count <= 0 {
		count = e.DefaultCount
	}
	if count > e.MaxAttempts {
		count = e.MaxAttempts
	}
	return count
}

// Payload returns the i-th payload, cycling through the list.
func (e *Entry) Payload(i int) string {
	return e.Payloads[i%len(e.Payloads)]
}

// Catalog is an immutable set of entries, ordered as detect.Categories.
type Catalog struct {
	entries map[detect.Category]*Entry
	order   []detect.Category
}

type catalogFile struct {
	Categories []entryFile `yaml:"categories"`
}

type entryFile struct {
	Name         string        `yaml:"name"`
	Placement    string        `yaml:"placement"`
	MaxAttempts  int           `yaml:"max_attempts"`
	DefaultCount int           `yaml:"default_count"`
	DelayMS      int           `yaml:"delay_ms"`
	Payloads     []payloadSpec `yaml:"payloads"`
}

// payloadSpec is a literal string or a {repeat, times} expansion.
type payloadSpec struct {
	value string
}

func (p *payloadSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&p.value)
	case yaml.MappingNode:
		var r struct {
			Repeat string `yaml:"repeat"`
			Times  int    `yaml:"times"`
		}
		if err := node.Decode(&r); err != nil {
			return err
		}
		if r.Repeat == "" || r.Times <= 0 {
			return fmt.Errorf("line %d: repeat payload needs non-empty repeat and positive times", node.Line)
		}
		p.value = strings.Repeat(r.Repeat, r.Times)
		return nil
	default:
		return fmt.Errorf("line %d: payload must be a string or a repeat mapping", node.Line)
	}
}

// DefaultCatalog returns the built-in payload catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, errors.New("catalog has no categories")
	}

	cat := &Catalog{entries: make(map[detect.Category]*Entry, len(f.Categories))}
	for _, ef := range f.Categories {
		c, ok := detect.ParseCategory(ef.Name)
		if !ok || c == detect.CategoryNone {
			return nil, fmt.Errorf("catalog: unknown category %q", ef.Name)
		}
		if _, dup := cat.entries[c]; dup {
			return nil, fmt.Errorf("catalog: duplicate category %q", c)
		}
		if len(ef.Payloads) == 0 {
			return nil, fmt.Errorf("catalog: %s has no payloads", c)
		}

		e := &Entry{
			Category:     c,
			Placement:    Placement(ef.Placement),
			MaxAttempts:  ef.MaxAttempts,
			DefaultCount: ef.DefaultCount,
			Delay:        time.Duration(ef.DelayMS) * time.Millisecond,
		}
		if e.Placement == "" {
			e.Placement = PlacementQuery
		}
		if !e.Placement.valid() {
			return nil, fmt.Errorf("catalog: %s: unknown placement %q", c, ef.Placement)
		}
		for _, p := range ef.Payloads {
			e.Payloads = append(e.Payloads, p.value)
		}
		if e.MaxAttempts <= 0 {
			e.MaxAttempts = min(len(e.Payloads), defaultMaxAttempts)
		}
		if e.DefaultCount <= 0 {
			e.DefaultCount = defaultCount
		}
		if e.Delay <= 0 {
			e.Delay = defaultDelay
		}
		cat.entries[c] = e
	}

	for _, c := range detect.Categories {
		if _, ok := cat.entries[c]; ok {
			cat.order = append(cat.order, c)
		}
	}
	return cat, nil
}

// Categories returns the catalog's categories in evaluation order.
func (c *Catalog) Categories() []detect.Category {
	out := make([]detect.Category, len(c.order))
	copy(out, c.order)
	return out
}

// Entry returns the entry for category.
func (c *Catalog) Entry(category detect.Category) (*Entry, bool) {
	e, ok := c.entries[category]
	return e, ok
}

// PayloadCounts returns the number of payloads per category.
func (c *Catalog) PayloadCounts() map[string]int {
	out := make(map[string]int, len(c.entries))
	for k, e := range c.entries {
		out[string(k)] = len(e.Payloads)
	}
	return out
}
