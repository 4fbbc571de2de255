package websocket

import "github.com/gymtable/gymtable-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError    Event = "error"
	EventPong     Event = "pong"
	EventQueued   Event = "queued"
	EventStarted  Event = "started"
	EventDone     Event = "done"
	EventFailed   Event = "failed"
	EventPipeline Event = "pipeline"
)

// JobStatus is the state stored for a job under its status key.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// JobEvent is published on the job events channel and forwarded as-is to
// every connected client.
type JobEvent struct {
	Event   Event             `json:"event"`
	JobID   string            `json:"job_id,omitempty"`
	Image   string            `json:"image,omitempty"`
	Status  JobStatus         `json:"status,omitempty"`
	Classes int               `json:"classes,omitempty"`
	Stats   *model.BatchStats `json:"stats,omitempty"`
	Error   string            `json:"error,omitempty"`
	At      int64             `json:"at"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
