// Package models defines the core domain models for staged product onboarding runs.
package models

import "time"

// InputType is the expected shape of a stage input value.
type InputType string

const (
	InputTypeString InputType = "string"
	InputTypeNumber InputType = "number"
	InputTypeBytes  InputType = "bytes" // base64 or raw image payloads
	InputTypeList   InputType = "list"
	InputTypeAny    InputType = "any"
)

// InputSpec declares one field a stage needs before it may call its remote operation.
// When From is empty the value comes from user entry, otherwise it is read from the
// committed artifact of stage From.
type InputSpec struct {
	Key      string    `json:"key"                yaml:"key"                validate:"required"`
	From     string    `json:"from,omitempty"     yaml:"from,omitempty"`
	Field    string    `json:"field,omitempty"    yaml:"field,omitempty"    validate:"required_with=From"`
	Type     InputType `json:"type,omitempty"     yaml:"type,omitempty"     validate:"omitempty,oneof=string number bytes list any"`
	Optional bool      `json:"optional,omitempty" yaml:"optional,omitempty"`
	Default  any       `json:"default,omitempty"  yaml:"default,omitempty"`
}

// IsUserEntry reports whether the value is typed in by the user rather than taken from an artifact.
func (s InputSpec) IsUserEntry() bool {
	return s.From == ""
}

// OperationSpec describes the remote operation a stage invokes.
type OperationSpec struct {
	Name    string            `json:"name"              yaml:"name"              validate:"required"`
	URL     string            `json:"url"               yaml:"url"               validate:"required,url"`
	Method  string            `json:"method,omitempty"  yaml:"method,omitempty"  validate:"omitempty,oneof=POST PUT PATCH"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Stage is an immutable stage definition. Stages are static configuration and are never
// mutated at runtime; the registry hands out copies.
type Stage struct {
	ID          string         `json:"id"                    yaml:"id"                    validate:"required"`
	Label       string         `json:"label"                 yaml:"label"                 validate:"required"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      []InputSpec    `json:"inputs"                yaml:"inputs"                validate:"dive"`
	Rules       []string       `json:"rules,omitempty"       yaml:"rules,omitempty"`
	Operation   OperationSpec  `json:"operation"             yaml:"operation"`
	Challenge   *OperationSpec `json:"challenge,omitempty"   yaml:"challenge,omitempty"`
	Idempotent  bool           `json:"idempotent,omitempty"  yaml:"idempotent,omitempty"`

	// ResponseSchema is a JSON schema the success payload must satisfy.
	ResponseSchema map[string]any `json:"response_schema,omitempty" yaml:"response_schema,omitempty"`
}

// RequiredKeys returns the payload keys the stage declares, in declaration order.
func (s Stage) RequiredKeys() []string {
	keys := make([]string, 0, len(s.Inputs))
	for _, in := range s.Inputs {
		if !in.Optional {
			keys = append(keys, in.Key)
		}
	}

	return keys
}

// ChallengeOperation returns the operation used to answer a challenge raised by this stage.
// Stages without a dedicated challenge endpoint replay their main operation.
func (s Stage) ChallengeOperation() OperationSpec {
	if s.Challenge != nil {
		return *s.Challenge
	}

	return s.Operation
}

// Clone returns a deep copy of the stage definition.
func (s Stage) Clone() Stage {
	clone := s

	if s.Inputs != nil {
		clone.Inputs = make([]InputSpec, len(s.Inputs))
		copy(clone.Inputs, s.Inputs)
	}

	if s.Rules != nil {
		clone.Rules = make([]string, len(s.Rules))
		copy(clone.Rules, s.Rules)
	}

	clone.Operation = s.Operation.clone()

	if s.Challenge != nil {
		challenge := s.Challenge.clone()
		clone.Challenge = &challenge
	}

	if s.ResponseSchema != nil {
		clone.ResponseSchema = CloneMap(s.ResponseSchema)
	}

	return clone
}

func (o OperationSpec) clone() OperationSpec {
	clone := o

	if o.Headers != nil {
		clone.Headers = make(map[string]string, len(o.Headers))
		for k, v := range o.Headers {
			clone.Headers[k] = v
		}
	}

	return clone
}
