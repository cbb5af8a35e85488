package problem

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SetSpec is the file and wire format of a consensus problem set.
// YAML files and JSON request bodies share the same field names.
type SetSpec struct {
	Problems []Spec `yaml:"problems" json:"problems"`
}

// Spec describes one Quadratic sub-problem.
type Spec struct {
	Name      string      `yaml:"name" json:"name"`
	Variables []BlockSpec `yaml:"variables" json:"variables"`
}

// BlockSpec describes one variable of a Quadratic sub-problem. Omitted bounds
// mean the variable is unbounded on that side.
type BlockSpec struct {
	ID        string    `yaml:"id" json:"id"`
	Quadratic []float64 `yaml:"quadratic" json:"quadratic"`
	Linear    []float64 `yaml:"linear" json:"linear"`
	Lower     []float64 `yaml:"lower,omitempty" json:"lower,omitempty"`
	Upper     []float64 `yaml:"upper,omitempty" json:"upper,omitempty"`
}

// LoadSet reads a YAML problem set from path.
func LoadSet(path string) (*SetSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read problem set: %w", err)
	}
	return ParseSet(data)
}

// ParseSet decodes a YAML problem set. JSON is valid YAML, so JSON input is
// accepted as well.
func ParseSet(data []byte) (*SetSpec, error) {
	var set SetSpec
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse problem set: %w", err)
	}
	if len(set.Problems) == 0 {
		return nil, fmt.Errorf("problem set has no problems")
	}
	return &set, nil
}

// Build turns a Spec into a Quadratic problem.
func (s Spec) Build() (*Quadratic, error) {
	blocks := make([]Block, len(s.Variables))
	for i, v := range s.Variables {
		blocks[i] = Block{
			ID:        VarID(v.ID),
			Quadratic: v.Quadratic,
			Linear:    v.Linear,
			Lower:     v.Lower,
			Upper:     v.Upper,
		}
	}
	return NewQuadratic(s.Name, blocks...)
}

// Build turns every Spec of the set into a Problem, preserving order.
func (s *SetSpec) Build() ([]Problem, error) {
	out := make([]Problem, 0, len(s.Problems))
	for i, spec := range s.Problems {
		p, err := spec.Build()
		if err != nil {
			return nil, fmt.Errorf("problem %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Find returns the Spec with the given name.
func (s *SetSpec) Find(name string) (Spec, bool) {
	for _, spec := range s.Problems {
		if spec.Name == name {
			return spec, true
		}
	}
	return Spec{}, false
}
