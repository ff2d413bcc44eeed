package topology

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a topology definition from a YAML file:
//
//	kind: hierarchical
//	relations:
//	  parent:
//	    worker-1: lead
//	    worker-2: lead
//
// The result is not validated against an agent pool; callers run Validate
// once the pool is known.
func LoadFile(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("read topology file: %w", err)
	}

	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Topology{}, fmt.Errorf("parse topology file %s: %w", path, err)
	}
	if !t.Kind.Valid() {
		return Topology{}, fmt.Errorf("%w: unknown kind %q in %s", ErrInvalidTopology, t.Kind, path)
	}
	return t, nil
}
