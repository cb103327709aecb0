package partition

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/updrift-io/updrift/internal/flash"
)

// Partition types recognized in the layout table.
const (
	TypeFirmware    = "firmware" // a slot capable of holding a bootable image
	TypeBootControl = "bootctl"  // the boot selector's persisted region
	TypeData        = "data"     // anything else (nvs, logs, user data)
)

// LayoutEntry is one row of the partition table.
type LayoutEntry struct {
	Label string `yaml:"label"`
	Type  string `yaml:"type"`
	Base  uint64 `yaml:"base"`
	Size  uint64 `yaml:"size"`
}

// Layout is the fixed partition table the catalog discovers slots from.
type Layout struct {
	Partitions []LayoutEntry `yaml:"partitions"`
}

// LoadLayout reads and validates a YAML partition table.
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("partition: read layout: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout parses a YAML partition table from raw bytes.
func ParseLayout(data []byte) (*Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("partition: parse layout: %w", err)
	}
	if err := l.validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

func (l *Layout) validate() error {
	if len(l.Partitions) == 0 {
		return fmt.Errorf("partition: empty layout")
	}

	seen := make(map[string]bool, len(l.Partitions))
	for _, e := range l.Partitions {
		if e.Label == "" {
			return fmt.Errorf("partition: entry without label")
		}
		if seen[e.Label] {
			return fmt.Errorf("partition: duplicate label %q", e.Label)
		}
		seen[e.Label] = true

		switch e.Type {
		case TypeFirmware, TypeBootControl, TypeData:
		default:
			return fmt.Errorf("partition: %s: unknown type %q", e.Label, e.Type)
		}

		if e.Size == 0 {
			return fmt.Errorf("partition: %s: zero size", e.Label)
		}
		if e.Base%flash.BlockSize != 0 || e.Size%flash.BlockSize != 0 {
			return fmt.Errorf("partition: %s: not block-aligned", e.Label)
		}
	}

	// Reject overlapping regions. N is tiny, the quadratic scan is fine.
	for i, a := range l.Partitions {
		for _, b := range l.Partitions[i+1:] {
			if a.Base < b.Base+b.Size && b.Base < a.Base+a.Size {
				return fmt.Errorf("partition: %s overlaps %s", a.Label, b.Label)
			}
		}
	}

	return nil
}
