// Package sites resolves generator connection points to the site they belong to.
package sites

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a key has no site description.
var ErrNotFound = errors.New("sites: description not found")

// Resolver maps a "<point of connection> <unit>" key to a site code.
type Resolver interface {
	Resolve(key string) (string, error)
}

// Key builds the lookup key for a point of connection and unit.
func Key(pointOfConnection, unit string) string {
	return pointOfConnection + " " + unit
}

// Table is an in-memory Resolver.
type Table struct {
	byKey map[string]string
}

// NewTable builds a Table from key to site pairs.
func NewTable(entries map[string]string) *Table {
	byKey := make(map[string]string, len(entries))
	for k, v := range entries {
		byKey[k] = v
	}
	return &Table{byKey: byKey}
}

// Resolve returns the site for key or ErrNotFound.
func (t *Table) Resolve(key string) (string, error) {
	site, ok := t.byKey[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return site, nil
}

// Len reports the number of known keys.
func (t *Table) Len() int {
	return len(t.byKey)
}

type descriptionFile struct {
	Sites []siteDescription `yaml:"sites"`
}

type siteDescription struct {
	Site  string            `yaml:"site"`
	Name  string            `yaml:"name"`
	Units []unitDescription `yaml:"units"`
}

type unitDescription struct {
	PointOfConnection string `yaml:"poc"`
	Unit              string `yaml:"unit"`
}

// Load reads a YAML description file of the form
//
//	sites:
//	  - site: MAN
//	    name: Manapouri
//	    units:
//	      - poc: MAN2201
//	        unit: MAN0
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site descriptions: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML site descriptions. A key claimed by two sites is an error.
func Parse(raw []byte) (*Table, error) {
	var doc descriptionFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode site descriptions: %w", err)
	}

	byKey := make(map[string]string)
	for _, s := range doc.Sites {
		site := strings.TrimSpace(s.Site)
		if site == "" {
			return nil, fmt.Errorf("site description %q has no site code", s.Name)
		}
		for _, u := range s.Units {
			if u.PointOfConnection == "" || u.Unit == "" {
				return nil, fmt.Errorf("site %s has a unit without poc/unit", site)
			}
			key := Key(u.PointOfConnection, u.Unit)
			if existing, dup := byKey[key]; dup && existing != site {
				return nil, fmt.Errorf("%s claimed by both %s and %s", key, existing, site)
			}
			byKey[key] = site
		}
	}
	return &Table{byKey: byKey}, nil
}

var _ Resolver = (*Table)(nil)
