package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseYAML decodes a Definition and runs it through Validate, mirroring
// ParseWorkflowYAML's parse-then-validate shape.
func ParseYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("workflow: parsing yaml: %w", err)
	}

	result := Validate(&def)
	if !result.Valid {
		return nil, fmt.Errorf("workflow: %s: invalid definition: %v", def.ID, result.Errors)
	}
	return &def, nil
}

// MustParseYAML is ParseYAML for callers that treat a malformed built-in
// definition as a programmer error.
func MustParseYAML(data []byte) *Definition {
	def, err := ParseYAML(data)
	if err != nil {
		panic(err)
	}
	return def
}
