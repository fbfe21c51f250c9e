package estimate

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Record is a reference budget/timeline keyed by project type.
type Record struct {
	ProjectType     string   `json:"project_type" yaml:"project_type"`
	BudgetRange     string   `json:"budget_range" yaml:"budget_range"`
	TypicalTimeline string   `json:"typical_timeline" yaml:"typical_timeline"`
	Aliases         []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

var ErrEmptyCatalog = errors.New("estimate catalog is empty")

type candidate struct {
	text   string
	record int
}

// Catalog is the read-only reference table. Keys and aliases are unique after
// normalization; insertion order is kept for deterministic tie-breaks.
type Catalog struct {
	records    []Record
	index      map[string]int
	candidates []candidate
}

func NewCatalog(records []Record) (*Catalog, error) {
	if len(records) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{
		records: make([]Record, 0, len(records)),
		index:   make(map[string]int, len(records)),
	}
	for _, r := range records {
		r.ProjectType = strings.TrimSpace(r.ProjectType)
		key := normalize(r.ProjectType)
		if key == "" {
			return nil, fmt.Errorf("estimate record with empty project type")
		}
		pos := len(c.records)
		names := append([]string{r.ProjectType}, r.Aliases...)
		for _, name := range names {
			n := normalize(name)
			if n == "" {
				continue
			}
			if prev, dup := c.index[n]; dup {
				return nil, fmt.Errorf("duplicate project type or alias %q (already used by %q)", name, c.records[prev].ProjectType)
			}
			c.index[n] = pos
			c.candidates = append(c.candidates, candidate{text: n, record: pos})
		}
		c.records = append(c.records, r)
	}
	return c, nil
}

// Keys returns project types in insertion order.
func (c *Catalog) Keys() []string {
	out := make([]string, len(c.records))
	for i, r := range c.records {
		out[i] = r.ProjectType
	}
	return out
}

// Names returns every key and alias, normalized, in insertion order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.candidates))
	for i, cand := range c.candidates {
		out[i] = cand.text
	}
	return out
}

// Lookup finds a record by exact (case-insensitive) key or alias.
func (c *Catalog) Lookup(name string) (Record, bool) {
	pos, ok := c.index[normalize(name)]
	if !ok {
		return Record{}, false
	}
	return c.records[pos], true
}

func (c *Catalog) Len() int { return len(c.records) }

func normalize(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}
