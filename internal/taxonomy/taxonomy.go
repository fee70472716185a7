// Package taxonomy loads the static category→keyword search list.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Category is one named group of search keywords.
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Pair is a single (category, keyword) search target.
type Pair struct {
	Category string
	Keyword  string
}

// Taxonomy is an ordered, immutable category→keyword mapping.
type Taxonomy struct {
	categories []Category
}

type document struct {
	Categories []Category `yaml:"categories"`
}

// Default returns the embedded taxonomy.
func Default() (*Taxonomy, error) {
	return Parse(defaultYAML)
}

// Load reads a taxonomy YAML file. An empty path yields the embedded default.
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a taxonomy document.
func Parse(data []byte) (*Taxonomy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode taxonomy: %w", err)
	}
	return New(doc.Categories)
}

// New validates categories and builds a Taxonomy. Every keyword must belong to
// exactly one category.
func New(categories []Category) (*Taxonomy, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("taxonomy has no categories")
	}
	owner := make(map[string]string)
	seenCategory := make(map[string]struct{}, len(categories))
	out := make([]Category, 0, len(categories))
	for _, cat := range categories {
		name := strings.TrimSpace(cat.Name)
		if name == "" {
			return nil, fmt.Errorf("taxonomy category with empty name")
		}
		if _, dup := seenCategory[name]; dup {
			return nil, fmt.Errorf("duplicate category %q", name)
		}
		seenCategory[name] = struct{}{}
		if len(cat.Keywords) == 0 {
			return nil, fmt.Errorf("category %q has no keywords", name)
		}
		keywords := make([]string, 0, len(cat.Keywords))
		for _, kw := range cat.Keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				return nil, fmt.Errorf("category %q has an empty keyword", name)
			}
			if prev, dup := owner[kw]; dup {
				return nil, fmt.Errorf("keyword %q listed in both %q and %q", kw, prev, name)
			}
			owner[kw] = name
			keywords = append(keywords, kw)
		}
		out = append(out, Category{Name: name, Keywords: keywords})
	}
	return &Taxonomy{categories: out}, nil
}

// Categories returns a copy of the categories in file order.
func (t *Taxonomy) Categories() []Category {
	out := make([]Category, len(t.categories))
	for i, cat := range t.categories {
		out[i] = Category{Name: cat.Name, Keywords: append([]string(nil), cat.Keywords...)}
	}
	return out
}

// Pairs flattens the taxonomy into search targets, preserving order.
func (t *Taxonomy) Pairs() []Pair {
	var pairs []Pair
	for _, cat := range t.categories {
		for _, kw := range cat.Keywords {
			pairs = append(pairs, Pair{Category: cat.Name, Keyword: kw})
		}
	}
	return pairs
}

// Len is the total number of keywords.
func (t *Taxonomy) Len() int {
	n := 0
	for _, cat := range t.categories {
		n += len(cat.Keywords)
	}
	return n
}
