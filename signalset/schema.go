package signalset

import (
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// Schema returns the JSON schema of a signal-set document.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	s := reflector.Reflect(&Document{})
	s.Title = "OBD-II signal set"
	return s
}

func (Category) JSONSchema() *jsonschema.Schema {
	cats := Categories()
	enum := make([]any, 0, len(cats))
	for _, c := range cats {
		enum = append(enum, string(c))
	}
	return &jsonschema.Schema{
		Type:        "string",
		Enum:        enum,
		Description: "Signal category",
	}
}

func (ServiceRequest) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "object",
		Description: "Service code mapped to the PID, e.g. {\"22\": \"1E1C\"}",
		PatternProperties: map[string]*jsonschema.Schema{
			"^[0-9A-Fa-f]{2}$": {Type: "string", Pattern: "^([0-9A-Fa-f]{2})*$"},
		},
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

// SchemaJSON renders Schema with a two-space indent.
func SchemaJSON() ([]byte, error) {
	compact, err := json.Marshal(Schema())
	if err != nil {
		return nil, errors.Wrap(err, "marshal schema")
	}
	return indentJSON(compact)
}
