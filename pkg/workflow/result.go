package workflow

import "github.com/dukex/sellflow/pkg/models"

// StageResult is the outcome of one stage invocation. It is a closed variant: exactly one
// of Success, Challenged, Rejected or TransportFailure.
type StageResult interface {
	stageResult()
}

// Success carries the artifact the stage produced.
type Success struct {
	Artifact models.Artifact
}

// Challenged means the remote side demands a secondary step before it completes.
type Challenged struct {
	Challenge models.Challenge
}

// Rejected is a business rejection: the input was understood and refused. Resubmitting
// the same input fails the same way, so it is never retried automatically.
type Rejected struct {
	Reason  string
	Details map[string]any
}

// TransportFailure means no usable answer came back. Retrying the identical payload is safe.
type TransportFailure struct {
	Retryable bool
	Err       error
}

func (Success) stageResult()          {}
func (Challenged) stageResult()       {}
func (Rejected) stageResult()         {}
func (TransportFailure) stageResult() {}

func (f TransportFailure) Error() string {
	if f.Err == nil {
		return "transport failure"
	}

	return f.Err.Error()
}

func (f TransportFailure) Unwrap() error {
	return f.Err
}
