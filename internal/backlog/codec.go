package backlog

import (
	"bytes"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/backlogd/internal/fault"
)

const yamlIndent = 2

// Marshal renders the backlog in its canonical YAML form: stable key
// ordering (struct field order) and fixed two-space indentation, so
// Marshal(Parse(Marshal(b))) is byte-identical to Marshal(b).
func Marshal(b *Backlog) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(yamlIndent)
	if err := enc.Encode(b); err != nil {
		return nil, fault.Validation(fault.OpSaveBacklog, "backlog cannot be serialized").
			With("cause", err.Error())
	}
	if err := enc.Close(); err != nil {
		return nil, fault.Validation(fault.OpSaveBacklog, "backlog cannot be serialized").
			With("cause", err.Error())
	}
	return buf.Bytes(), nil
}

// Parse decodes and validates a candidate backlog document. op names the
// operation on whose behalf parsing happens and is carried on any
// resulting validation error.
func Parse(data []byte, op string) (*Backlog, error) {
	var b Backlog
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fault.Validation(op, "backlog document is not valid YAML").
			With("cause", err.Error())
	}
	if b.Phases == nil {
		b.Phases = []*Phase{}
	}
	if err := Validate(&b, op); err != nil {
		return nil, err
	}
	return &b, nil
}
