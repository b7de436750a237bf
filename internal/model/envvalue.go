package model

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// UnmarshalJSON accepts both the simple `"KEY": "value"` wire shape and the
// structured `"KEY": {"value": "...", "description": "..."}` shape, so
// callers never have to pass untyped maps across the HTTP boundary.
func (e *EnvValue) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		e.Value = asString
		e.Description = ""
		return nil
	}
	type alias EnvValue
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = EnvValue(a)
	return nil
}

// MarshalJSON always emits the structured shape; the simple-string wire
// shape is only ever an input convenience, never an output ambiguity.
func (e EnvValue) MarshalJSON() ([]byte, error) {
	type alias EnvValue
	return json.Marshal(alias(e))
}

// UnmarshalYAML mirrors UnmarshalJSON for the bulk mcpServers.yaml import
// path: a scalar node is a bare value, a mapping node is the structured
// {value, description} shape.
func (e *EnvValue) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		e.Value = value.Value
		e.Description = ""
		return nil
	}
	type alias EnvValue
	var a alias
	if err := value.Decode(&a); err != nil {
		return err
	}
	*e = EnvValue(a)
	return nil
}

// MarshalYAML always emits a bare scalar when there is no description, so a
// plain export round-trips as the familiar mcpServers.yaml env shape.
func (e EnvValue) MarshalYAML() (any, error) {
	if e.Description == "" {
		return e.Value, nil
	}
	type alias EnvValue
	return alias(e), nil
}
