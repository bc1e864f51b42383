package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

var reflector = &jsonschema.Reflector{
	Anonymous:                 true,
	ExpandedStruct:            true,
	DoNotReference:            true,
	AllowAdditionalProperties: true,
}

// ParametersFor reflects a JSON Schema object from the fields of T. Fields
// without omitempty are required.
func ParametersFor[T any]() (json.RawMessage, error) {
	schema := reflector.Reflect(new(T))
	schema.Version = ""
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return raw, nil
}

// RegisterFunc registers a function whose arguments decode into T. The
// parameter schema is derived from T.
func RegisterFunc[T any](r *Registry, name, description string, fn func(ctx context.Context, args T) (string, error)) error {
	params, err := ParametersFor[T]()
	if err != nil {
		return fmt.Errorf("reflect parameters for %s: %w", name, err)
	}
	return r.Register(Definition{
		Name:        name,
		Description: description,
		Parameters:  params,
	}, func(ctx context.Context, args map[string]any) (string, error) {
		var typed T
		if err := decodeInto(args, &typed); err != nil {
			return "", err
		}
		return fn(ctx, typed)
	})
}

func decodeInto(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}
	return nil
}
