package models

import "time"

// Artifact is the committed output of a successfully completed stage. Once committed it
// is owned by the run context and never mutated; a retried stage produces a new artifact.
type Artifact struct {
	StageID        string         `json:"stage_id"`
	Data           map[string]any `json:"data"`
	Attempt        int            `json:"attempt"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Duplicate      bool           `json:"duplicate,omitempty"` // collapsed onto an earlier remote success
	CommittedAt    time.Time      `json:"committed_at"`
}

// Field returns a top-level value of the artifact payload.
func (a Artifact) Field(name string) (any, bool) {
	if a.Data == nil {
		return nil, false
	}

	v, ok := a.Data[name]

	return v, ok
}

// Clone returns a deep copy of the artifact.
func (a Artifact) Clone() Artifact {
	clone := a
	clone.Data = CloneMap(a.Data)

	return clone
}

// CloneMap deep-copies JSON-shaped maps so callers cannot mutate committed data.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = CloneValue(v)
	}

	return dst
}

// CloneValue deep-copies a single JSON-shaped value.
func CloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return CloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = CloneValue(item)
		}

		return out
	case []string:
		out := make([]string, len(typed))
		copy(out, typed)

		return out
	case []byte:
		out := make([]byte, len(typed))
		copy(out, typed)

		return out
	default:
		return v
	}
}
