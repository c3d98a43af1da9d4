package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// behaviourSchema constrains the inbound timing payload before anything
// reaches the scorer: required fields, non-negative numerics, device enum.
const behaviourSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["dwell_times", "flight_times", "total_time", "device_type"],
  "additionalProperties": false,
  "properties": {
    "dwell_times": {
      "type": "array",
      "minItems": 1,
      "maxItems": 2048,
      "items": {"type": "number", "minimum": 0}
    },
    "flight_times": {
      "type": "array",
      "maxItems": 2048,
      "items": {"type": "number", "minimum": 0}
    },
    "total_time": {"type": "number", "minimum": 0},
    "error_count": {"type": "integer", "minimum": 0},
    "device_type": {"enum": ["precise", "coarse"]}
  }
}`

var (
	behaviourSchemaOnce     sync.Once
	compiledBehaviourSchema *jsonschema.Schema
	behaviourSchemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	behaviourSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("behaviour.schema.json", strings.NewReader(behaviourSchema)); err != nil {
			behaviourSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledBehaviourSchema, behaviourSchemaErr = compiler.Compile("behaviour.schema.json")
	})
	return compiledBehaviourSchema, behaviourSchemaErr
}

// validateBehaviourPayload checks the raw behaviour JSON against the
// embedded schema.
func validateBehaviourPayload(raw json.RawMessage) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("parse behaviour payload: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("behaviour payload invalid: %w", err)
	}
	return nil
}
