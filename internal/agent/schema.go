package agent

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed load.schema.json
var loadSchemaJSON []byte

const loadSchemaURL = "load.schema.json"

// SchemaErrors lists every violation of the load request schema.
type SchemaErrors []error

func (se SchemaErrors) Error() string {
	var sb strings.Builder
	for i, err := range se {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

func compileLoadSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(loadSchemaURL, bytes.NewReader(loadSchemaJSON)); err != nil {
		return nil, fmt.Errorf("invalid load schema: %w", err)
	}
	schema, err := compiler.Compile(loadSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid load schema: %w", err)
	}
	return schema, nil
}

// validateLoad checks a raw load request against schema.
func validateLoad(schema *jsonschema.Schema, body []byte) error {
	var doc interface{}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	err := schema.Validate(doc)
	if err == nil {
		return nil
	}

	var validationErr *jsonschema.ValidationError
	if errors.As(err, &validationErr) {
		if errs := flattenValidationError(validationErr); len(errs) > 0 {
			return errs
		}
	}
	return err
}

// flattenValidationError collects the leaf causes, which carry the useful messages.
func flattenValidationError(err *jsonschema.ValidationError) SchemaErrors {
	if len(err.Causes) == 0 {
		location := err.InstanceLocation
		if location == "" {
			location = "/"
		}
		return SchemaErrors{fmt.Errorf("%s: %s", location, err.Message)}
	}

	var errs SchemaErrors
	for _, cause := range err.Causes {
		errs = append(errs, flattenValidationError(cause)...)
	}
	return errs
}
