package multiplier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Multipliers []Entry `yaml:"multipliers"`
}

// LoadSeedFile reads a YAML multiplier seed of the form
//
//	multipliers:
//	  - serviceType: Oil Change
//	    multiplier: 2
//
// Duplicate service types are rejected.
func LoadSeedFile(path string) (map[string]uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeed(b)
}

// ParseSeed decodes a YAML multiplier seed.
func ParseSeed(b []byte) (map[string]uint64, error) {
	var file seedFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("multiplier seed: %w", err)
	}
	out := make(map[string]uint64, len(file.Multipliers))
	for _, entry := range file.Multipliers {
		if entry.ServiceType == "" {
			return nil, fmt.Errorf("multiplier seed: entry without serviceType")
		}
		if entry.Multiplier == 0 {
			return nil, fmt.Errorf("multiplier seed: %q must be greater than 0", entry.ServiceType)
		}
		if _, dup := out[entry.ServiceType]; dup {
			return nil, fmt.Errorf("multiplier seed: duplicate service type %q", entry.ServiceType)
		}
		out[entry.ServiceType] = entry.Multiplier
	}
	return out, nil
}
