package remote

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaMismatch indicates a success payload that does not satisfy the stage schema.
var ErrSchemaMismatch = errors.New("response does not match stage schema")

// ValidateBody checks a decoded response body against a JSON schema. A nil schema accepts anything.
func ValidateBody(schema map[string]any, body map[string]any) error {
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(body))
	if err != nil {
		return fmt.Errorf("failed to validate response: %w", err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return fmt.Errorf("%w: %s", ErrSchemaMismatch, strings.Join(details, "; "))
}
