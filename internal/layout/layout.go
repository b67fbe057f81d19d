// Package layout describes flash partition layouts for supported devices.
// The builtin table covers the stock BK7231 OTA arrangement; additional
// layouts load from YAML files.
package layout

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Partition is one named flash region.
type Partition struct {
	Name string `yaml:"name"`
	// Size in bytes as stored on flash.
	Size uint32 `yaml:"size"`
	// StartAddress is the physical flash offset.
	StartAddress uint32 `yaml:"start_address"`
	// MappedAddress is the address the bootloader maps the partition to,
	// which keys the code cipher stream for encrypted partitions.
	MappedAddress uint32 `yaml:"mapped_address"`
}

// End returns the physical offset one past the partition.
func (p Partition) End() uint32 {
	return p.StartAddress + p.Size
}

// Layout is a full device flash arrangement.
type Layout struct {
	Name string `yaml:"name"`
	// WithCRC marks layouts whose partitions store every 32 payload
	// bytes followed by a CRC-16, the stock arrangement. The CRC bytes
	// must be stripped before payloads are validated or decrypted.
	WithCRC    bool        `yaml:"with_crc"`
	Partitions []Partition `yaml:"partitions"`
}

// Partition finds a partition by name.
func (l Layout) Partition(name string) (Partition, bool) {
	for _, p := range l.Partitions {
		if p.Name == name {
			return p, true
		}
	}
	return Partition{}, false
}

// Validate checks partition fields for the obvious mistakes: empty names,
// zero sizes, duplicates and physical overlaps.
func (l Layout) Validate() error {
	seen := make(map[string]bool, len(l.Partitions))
	sorted := make([]Partition, len(l.Partitions))
	copy(sorted, l.Partitions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartAddress < sorted[j].StartAddress })

	for i, p := range sorted {
		if p.Name == "" {
			return fmt.Errorf("layout %q: partition %d has no name", l.Name, i)
		}
		if p.Size == 0 {
			return fmt.Errorf("layout %q: partition %q has zero size", l.Name, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("layout %q: duplicate partition %q", l.Name, p.Name)
		}
		seen[p.Name] = true
		if i > 0 && sorted[i-1].End() > p.StartAddress {
			return fmt.Errorf("layout %q: partitions %q and %q overlap", l.Name, sorted[i-1].Name, p.Name)
		}
	}
	return nil
}

// Registry holds the known layouts by name.
type Registry struct {
	layouts map[string]Layout
}

// Builtin returns a registry preloaded with the stock layouts.
func Builtin() *Registry {
	r := &Registry{layouts: make(map[string]Layout)}
	for _, l := range builtinLayouts {
		r.layouts[l.Name] = l
	}
	return r
}

// Lookup finds a layout by name.
func (r *Registry) Lookup(name string) (Layout, bool) {
	l, ok := r.layouts[name]
	return l, ok
}

// Names lists the registered layout names sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.layouts))
	for name := range r.layouts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Add validates and registers a layout, replacing any same-named entry.
func (r *Registry) Add(l Layout) error {
	if l.Name == "" {
		return fmt.Errorf("layout has no name")
	}
	if err := l.Validate(); err != nil {
		return err
	}
	r.layouts[l.Name] = l
	return nil
}

// LoadFile reads layouts from a YAML file and registers them.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read layout file: %w", err)
	}

	var doc struct {
		Layouts []Layout `yaml:"layouts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse layout file %s: %w", path, err)
	}

	for _, l := range doc.Layouts {
		if err := r.Add(l); err != nil {
			return err
		}
	}
	return nil
}

// builtinLayouts is the stock table. ota_1 is the layout Tuya devices
// built on the BK7231T/N ship with.
var builtinLayouts = []Layout{
	{
		Name:    "ota_1",
		WithCRC: true,
		Partitions: []Partition{
			{Name: "bootloader", Size: 68 * 1024, StartAddress: 0x00000, MappedAddress: 0x00000},
			{Name: "app", Size: 1150832, StartAddress: 0x11000, MappedAddress: 0x10000},
		},
	},
}
