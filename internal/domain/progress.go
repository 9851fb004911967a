package domain

import "time"

// Stage labels one step of a resolution's progress log.
type Stage string

const (
	StageStart    Stage = "start"
	StageComplete Stage = "complete"
	StageError    Stage = "error"
	StageTimeout  Stage = "timeout"
)

// TierStage returns the stage label for a tier transition.
func TierStage(t Tier) Stage { return Stage(t.String()) }

// Terminal reports whether the stage ends a session's log.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError || s == StageTimeout
}

// ProgressEvent is one entry of a session's ordered, append-only log.
type ProgressEvent struct {
	SessionID string         `json:"sessionId"`
	Stage     Stage          `json:"stage"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// SessionStatus is the point-in-time state of a progress session.
type SessionStatus string

const (
	SessionRunning  SessionStatus = "running"
	SessionComplete SessionStatus = "complete"
	SessionFailed   SessionStatus = "failed"
)

// ProgressSnapshot is the polling view of a session.
type ProgressSnapshot struct {
	SessionID string          `json:"sessionId"`
	Status    SessionStatus   `json:"status"`
	Events    []ProgressEvent `json:"events"`
	Complete  bool            `json:"complete"`
}
