// Package template renders the dynamic parts of stage operations, such as credentials
// in request headers.
package template

import (
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/sellflow/pkg/models"
)

// Data is what operation templates can reference.
type Data struct {
	RunID   string
	StageID string
	Attempt int
	Env     map[string]string
}

// NewData returns template data for one stage call, including the process environment.
func NewData(runID, stageID string, attempt int) Data {
	return Data{
		RunID:   runID,
		StageID: stageID,
		Attempt: attempt,
		Env:     getEnvVars(),
	}
}

// NeedsTemplating reports whether s contains template actions.
func NeedsTemplating(s string) bool {
	return strings.Contains(s, "{{")
}

// Render executes templateStr against data.
func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("operation").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"env": os.Getenv,
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// RenderOperation returns a copy of op with every templated header rendered.
func RenderOperation(op models.OperationSpec, data Data) (models.OperationSpec, error) {
	if len(op.Headers) == 0 {
		return op, nil
	}

	headers := make(map[string]string, len(op.Headers))

	for name, value := range op.Headers {
		if !NeedsTemplating(value) {
			headers[name] = value

			continue
		}

		rendered, err := Render(value, data)
		if err != nil {
			return op, fmt.Errorf("header %s: %w", name, err)
		}

		headers[name] = rendered
	}

	op.Headers = headers

	return op, nil
}

// getEnvVars returns environment variables as a map.
func getEnvVars() map[string]string {
	envMap := make(map[string]string)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
