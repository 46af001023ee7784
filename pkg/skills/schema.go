package skills

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// ManifestSchema returns the JSON schema of the SKILL.md header. The schema
// is closed and mirrors the rules enforced by Validate.
func ManifestSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Manifest{})
	schema.Title = "SKILL.md header"
	return schema
}

// ManifestSchemaJSON returns the indented JSON rendering of ManifestSchema.
func ManifestSchemaJSON() ([]byte, error) {
	out, err := json.MarshalIndent(ManifestSchema(), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal manifest schema")
	}
	return out, nil
}

// JSONSchemaExtend adds the constraints that cannot be expressed in struct tags.
func (Manifest) JSONSchemaExtend(s *jsonschema.Schema) {
	if s.Properties == nil {
		return
	}
	if name, ok := s.Properties.Get("name"); ok {
		name.Pattern = namePattern.String()
	}
}

// JSONSchema describes the string-or-list shape of allowed-tools.
func (AllowedTools) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Description: "Tools the skill expects to use, as a delimited string or a list",
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
	}
}

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
