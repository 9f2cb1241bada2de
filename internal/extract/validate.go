package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kalambet/freightdocs/internal/documents"
)

var schemaCache sync.Map // documents.Type -> *jsonschema.Schema

// ValidateFields checks extracted fields against the profile schema of
// docType. Compiled schemas are cached per type.
func ValidateFields(docType documents.Type, fields map[string]any) error {
	schema, err := compiledSchema(docType)
	if err != nil {
		return err
	}

	// The validator expects decoded JSON: plain maps, slices and float64s.
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("unmarshal fields: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("fields do not match %s schema: %w", docType, err)
	}
	return nil
}

func compiledSchema(docType documents.Type) (*jsonschema.Schema, error) {
	if s, ok := schemaCache.Load(docType); ok {
		return s.(*jsonschema.Schema), nil
	}

	b, err := json.Marshal(documents.ProfileFor(docType).Schema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	schemaCache.Store(docType, s)
	return s, nil
}
