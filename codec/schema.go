package codec

import "github.com/invopop/jsonschema"

// JSONSchema restricts unit strings to the closed set.
func (Unit) JSONSchema() *jsonschema.Schema {
	units := Units()
	enum := make([]any, 0, len(units))
	for _, u := range units {
		enum = append(enum, string(u))
	}
	return &jsonschema.Schema{
		Type:        "string",
		Enum:        enum,
		Description: "Physical unit of the scaled value",
	}
}
