package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Registry maps tool names to definitions. It is constructed once at startup
// and passed into the execution loop explicitly; there is no process-wide
// registration.
type Registry struct {
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool definition, compiling its input schema.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Get returns a tool definition by name, or nil.
func (r *Registry) Get(name string) *Definition {
	return r.tools[name]
}

// List returns all registered definitions sorted by name.
func (r *Registry) List() []*Definition {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]*Definition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name])
	}
	return defs
}

// InputSchema renders the JSON-Schema fragment declared for a tool, in the
// shape the reasoning backend expects.
func (d *Definition) InputSchema() (map[string]interface{}, []string) {
	properties := make(map[string]interface{})
	var required []string
	for _, param := range d.Parameters {
		prop := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[param.Name] = prop
		if param.Required {
			required = append(required, param.Name)
		}
	}
	return properties, required
}

// Execute runs one tool call. Unknown tools, validation failures, handler
// errors and panics all come back as structured error results so the batch
// stays well-formed.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]interface{}, tc *Context) Result {
	def := r.tools[name]
	if def == nil {
		return Result{Content: fmt.Sprintf("tool not found: %s", name), IsError: true}
	}

	if err := r.validate(name, input); err != nil {
		log.Warn().Str("tool", name).Err(err).Msg("Tool input validation failed")
		return Result{Content: fmt.Sprintf("invalid input for %s: %v", name, err), IsError: true}
	}

	result := r.invoke(ctx, def, input, tc)
	if result.IsError {
		log.Warn().Str("tool", name).Str("error", result.Content).Msg("Tool execution failed")
	} else {
		log.Debug().Str("tool", name).Msg("Tool executed")
	}
	return result
}

func (r *Registry) invoke(ctx context.Context, def *Definition, input map[string]interface{}, tc *Context) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result = Result{Content: fmt.Sprintf("tool %s panicked: %v", def.Name, rec), IsError: true}
		}
	}()

	out, err := def.Handler(ctx, input, tc)
	if err != nil {
		return Result{Content: err.Error(), IsError: true}
	}
	return Result{Content: stringify(out)}
}

func (r *Registry) validate(name string, input map[string]interface{}) error {
	schema := r.schemas[name]
	if schema == nil {
		return nil
	}
	if input == nil {
		input = map[string]interface{}{}
	}

	res, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return err
	}
	if !res.Valid() {
		var msgs []string
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}
	return nil
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	properties, required := def.InputSchema()
	schemaMap := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func stringify(out interface{}) string {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
