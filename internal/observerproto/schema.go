package observerproto

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed control.schema.json
var controlSchemaJSON string

const controlSchemaURL = "control.schema.json"

var (
	controlOnce   sync.Once
	controlSchema *jsonschema.Schema
	controlErr    error
)

func compiledControlSchema() (*jsonschema.Schema, error) {
	controlOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(controlSchemaURL, strings.NewReader(controlSchemaJSON)); err != nil {
			controlErr = err
			return
		}
		controlSchema, controlErr = c.Compile(controlSchemaURL)
	})
	return controlSchema, controlErr
}

// ValidateControl checks a raw CONTROL message before it is decoded.
func ValidateControl(raw []byte) error {
	s, err := compiledControlSchema()
	if err != nil {
		return fmt.Errorf("control schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("control: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("control: %w", err)
	}
	return nil
}
