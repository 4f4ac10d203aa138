package world

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RegionEntry is a named axis-aligned rectangle, min inclusive, max exclusive.
type RegionEntry struct {
	ID   string  `yaml:"id"`
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

func (r *RegionEntry) contains(p Position) bool {
	return p.X >= r.MinX && p.X < r.MaxX && p.Y >= r.MinY && p.Y < r.MaxY
}

// RegionTable resolves positions to region ids. First match wins.
type RegionTable struct {
	regions []RegionEntry
}

// LoadRegionTable loads regions.yaml. An empty path yields an empty table.
func LoadRegionTable(path string) (*RegionTable, error) {
	if path == "" {
		return &RegionTable{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region list: %w", err)
	}
	return ParseRegionTable(raw)
}

// ParseRegionTable decodes a YAML list of regions.
func ParseRegionTable(raw []byte) (*RegionTable, error) {
	var entries []RegionEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse region list: %w", err)
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("region without id")
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("duplicate region %q", e.ID)
		}
		if e.MaxX <= e.MinX || e.MaxY <= e.MinY {
			return nil, fmt.Errorf("region %q has empty bounds", e.ID)
		}
		seen[e.ID] = true
	}
	return &RegionTable{regions: entries}, nil
}

// RegionOf returns the id of the first region containing p, or "".
func (t *RegionTable) RegionOf(p Position) string {
	if t == nil {
		return ""
	}
	for i := range t.regions {
		if t.regions[i].contains(p) {
			return t.regions[i].ID
		}
	}
	return ""
}

// Count returns the number of regions loaded.
func (t *RegionTable) Count() int {
	if t == nil {
		return 0
	}
	return len(t.regions)
}
