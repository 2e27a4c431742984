package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	jsonschemav6 "github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const (
	schemaTransaction = "transaction"
	schemaAmendment   = "amendment"
	schemaScenario    = "scenario"

	schemaBaseURL = "https://tax-engine.schemas.local/api/"

	maxBodyBytes = 1 << 20
)

// Validator checks request bodies against the embedded JSON Schemas before
// they are decoded into DTOs.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every schema under schemas/.
func NewValidator() (*Validator, error) {
	files, err := fs.Glob(schemaFS, "schemas/*.schema.json")
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(files))}
	for _, file := range files {
		raw, err := schemaFS.ReadFile(file)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(path.Base(file), ".schema.json")
		url := schemaBaseURL + path.Base(file)
		if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("schema %s load failed: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

// RequestError is a request body that is not JSON or does not match its
// schema. Handlers answer it with 400.
type RequestError struct {
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *RequestError) Unwrap() error { return e.Err }

// Decode reads body, validates it against the named schema and decodes it
// into dst. Unknown fields are ignored.
func (v *Validator) Decode(schema string, body io.Reader, dst any) error {
	compiled, ok := v.schemas[schema]
	if !ok {
		return fmt.Errorf("unknown schema %q", schema)
	}

	raw, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return &RequestError{Message: "Invalid request body", Err: err}
	}
	doc, err := jsonschemav6.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &RequestError{Message: "Invalid request body", Err: err}
	}
	if err := compiled.Validate(doc); err != nil {
		return &RequestError{Message: "Validation failed", Err: err}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &RequestError{Message: "Invalid request body", Err: err}
	}
	return nil
}
