// Package tools holds the function registry and the tool executor that
// answers upstream tool calls.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrFunctionNotFound is returned for names absent from the registry.
var ErrFunctionNotFound = errors.New("function not found")

// Handler runs a registered function with validated arguments.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Definition describes a callable function. Parameters is a JSON Schema
// object describing the named arguments.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ArgumentError reports arguments that do not satisfy a function's schema.
type ArgumentError struct {
	Function string
	Reason   string
}

func (e *ArgumentError) Error() string { return e.Reason }

type function struct {
	def        Definition
	handler    Handler
	schema     *jsonschema.Schema
	properties map[string]struct{}
	required   []string
}

// Registry stores functions keyed by name. All Register calls must happen
// before the registry is shared; after that it is only read, so concurrent
// lookups need no locking.
type Registry struct {
	functions map[string]*function
	order     []string
}

// NewRegistry creates an empty function registry.
func NewRegistry() *Registry {
	return &Registry{
		functions: make(map[string]*function),
	}
}

// Register adds a function. The parameter schema is compiled up front so a
// bad schema fails at startup rather than on the first call.
func (r *Registry) Register(def Definition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("function name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	if len(def.Parameters) == 0 {
		def.Parameters = json.RawMessage(`{"type":"object","properties":{}}`)
	}

	schema, err := jsonschema.CompileString(def.Name+".schema.json", string(def.Parameters))
	if err != nil {
		return fmt.Errorf("invalid parameter schema for %s: %w", def.Name, err)
	}

	var shape struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(def.Parameters, &shape); err != nil {
		return fmt.Errorf("invalid parameter schema for %s: %w", def.Name, err)
	}
	props := make(map[string]struct{}, len(shape.Properties))
	for name := range shape.Properties {
		props[name] = struct{}{}
	}

	if _, exists := r.functions[def.Name]; exists {
		return fmt.Errorf("function already registered: %s", def.Name)
	}
	r.functions[def.Name] = &function{
		def:        def,
		handler:    handler,
		schema:     schema,
		properties: props,
		required:   shape.Required,
	}
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister adds a function or panics.
func (r *Registry) MustRegister(def Definition, handler Handler) {
	if err := r.Register(def, handler); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.functions[name]
	return ok
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Subset returns a registry holding only the named functions. An empty list
// selects everything.
func (r *Registry) Subset(names []string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}

	sub := NewRegistry()
	for _, name := range names {
		fn, ok := r.functions[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
		}
		sub.functions[name] = fn
		sub.order = append(sub.order, name)
	}
	return sub, nil
}

// Validate checks args against the function's declared parameters. Missing
// required arguments and schema violations produce an *ArgumentError. Names
// not declared by the schema are returned as unexpected and are not an error.
func (r *Registry) Validate(name string, args map[string]any) (unexpected []string, err error) {
	fn, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	for key := range args {
		if _, ok := fn.properties[key]; !ok {
			unexpected = append(unexpected, key)
		}
	}
	sort.Strings(unexpected)

	var missing []string
	for _, req := range fn.required {
		if _, ok := args[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return unexpected, &ArgumentError{
			Function: name,
			Reason:   "Missing required arguments: " + strings.Join(missing, ", "),
		}
	}

	if err := fn.schema.Validate(toSchemaValue(args)); err != nil {
		return unexpected, &ArgumentError{Function: name, Reason: describeSchemaError(err)}
	}
	return unexpected, nil
}

// Call runs the handler without validating arguments.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	fn, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	return fn.handler(ctx, args)
}

// Invoke validates args and runs the named function.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	if _, err := r.Validate(name, args); err != nil {
		return "", err
	}
	return r.Call(ctx, name, args)
}

func (r *Registry) lookup(name string) (*function, error) {
	fn := r.functions[name]
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}
	return fn, nil
}

func toSchemaValue(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func describeSchemaError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var parts []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := strings.TrimLeft(e.InstanceLocation, "#/")
			if loc == "" {
				parts = append(parts, e.Message)
			} else {
				parts = append(parts, loc+": "+e.Message)
			}
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}
