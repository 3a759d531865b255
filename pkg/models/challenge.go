package models

import "time"

// ChallengeKind identifies the secondary step a stage demands before it can complete.
type ChallengeKind string

const (
	ChallengeKindOTP         ChallengeKind = "otp"
	ChallengeKindCredentials ChallengeKind = "credentials"
)

// Challenge is transient: it exists between the moment a stage signals it and the moment
// it is resolved, superseded or abandoned. It always references the stage that raised it.
type Challenge struct {
	StageID   string        `json:"stage_id"`
	Kind      ChallengeKind `json:"kind"`
	SessionID string        `json:"session_id,omitempty"`
	Prompt    []string      `json:"prompt"`
	RaisedAt  time.Time     `json:"raised_at"`
}

// PromptFields returns the supplemental fields the user must provide for a challenge kind.
func PromptFields(kind ChallengeKind) []string {
	switch kind {
	case ChallengeKindOTP:
		return []string{"otp_code"}
	case ChallengeKindCredentials:
		return []string{"login", "password"}
	default:
		return nil
	}
}
