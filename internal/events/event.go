package events

import "time"

// Type enumerates the published event kinds.
type Type string

const (
	TypeStageStart    Type = "stage_start"
	TypeStageComplete Type = "stage_complete"
	TypeBuildComplete Type = "build_complete"
)

// Event is the JSON payload of every published message.
type Event struct {
	Type          Type      `json:"type"`
	BuildID       string    `json:"build_id"`
	ParentBuildID string    `json:"parent_build_id,omitempty"`
	Stage         string    `json:"stage,omitempty"`
	Result        string    `json:"result,omitempty"`
	DurationMS    int64     `json:"duration_ms,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
	SkipReason    string    `json:"skip_reason,omitempty"`
	Errors        []string  `json:"errors,omitempty"`
	Warnings      []string  `json:"warnings,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
