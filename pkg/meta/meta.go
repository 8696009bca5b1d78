// Package meta describes what configuration variables mean.
//
// The builtin catalog covers the NMRA-standardized CVs that every
// decoder implements the same way. Manufacturer-specific CVs vary
// wildly, so a YAML override file can add or replace entries for a
// particular decoder family.
package meta

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Info describes one configuration variable.
type Info struct {
	// Name is the short standardized name.
	Name string `yaml:"name"`

	// Description explains what the CV controls.
	Description string `yaml:"description,omitempty"`

	// BitLabels names the individual bits, LSB first, for CVs that
	// are bit fields.
	BitLabels []string `yaml:"bits,omitempty"`

	// ReadOnly marks CVs the decoder will not accept writes to.
	ReadOnly bool `yaml:"read_only,omitempty"`
}

// Catalog maps CV numbers to their descriptions.
type Catalog struct {
	entries map[int]Info
}

// NewCatalog returns the builtin NMRA catalog.
func NewCatalog() *Catalog {
	entries := make(map[int]Info, len(builtin))
	for cv, info := range builtin {
		entries[cv] = info
	}
	return &Catalog{entries: entries}
}

// Lookup returns the description of a CV. ok is false for CVs the
// catalog knows nothing about.
func (c *Catalog) Lookup(cv int) (Info, bool) {
	info, ok := c.entries[cv]
	return info, ok
}

// Name returns the CV's name, or a generic "CV n" placeholder.
func (c *Catalog) Name(cv int) string {
	if info, ok := c.entries[cv]; ok {
		return info.Name
	}
	return fmt.Sprintf("CV %d", cv)
}

// Known returns the cataloged CV numbers in ascending order.
func (c *Catalog) Known() []int {
	cvs := make([]int, 0, len(c.entries))
	for cv := range c.entries {
		cvs = append(cvs, cv)
	}
	sort.Ints(cvs)
	return cvs
}

// Merge adds entries over the existing ones; colliding CV numbers are
// replaced.
func (c *Catalog) Merge(entries map[int]Info) {
	for cv, info := range entries {
		c.entries[cv] = info
	}
}

// LoadOverrides merges a YAML override file into the catalog. The
// file maps CV numbers to Info entries:
//
//	47:
//	  name: "Motor PID P"
//	  description: "Proportional gain of the motor controller"
func (c *Catalog) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading cv metadata: %w", err)
	}

	var entries map[int]Info
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing cv metadata %s: %w", path, err)
	}

	c.Merge(entries)
	return nil
}

// DescribeValue renders a CV value using the bit labels when the CV is
// a bit field, e.g. "38 (28 speed steps, DC mode, long address)".
func (c *Catalog) DescribeValue(cv int, value byte) string {
	info, ok := c.entries[cv]
	if !ok || len(info.BitLabels) == 0 {
		return fmt.Sprintf("%d", value)
	}

	var set []string
	for bit, label := range info.BitLabels {
		if label == "" {
			continue
		}
		if value&(1<<bit) != 0 {
			set = append(set, label)
		}
	}
	if len(set) == 0 {
		return fmt.Sprintf("%d", value)
	}

	out := fmt.Sprintf("%d (", value)
	for i, label := range set {
		if i > 0 {
			out += ", "
		}
		out += label
	}
	return out + ")"
}
