package envelope

import (
	"encoding/json"
	"errors"
)

// ErrMalformed is returned by Decode for frames that are not valid JSON
// objects or that carry no type discriminant.
var ErrMalformed = errors.New("malformed frame")

// Kind is the value of a frame's "type" field.
type Kind string

const (
	KindConnected       Kind = "connected"
	KindSubscribed      Kind = "subscribed"
	KindUnsubscribed    Kind = "unsubscribed"
	KindPong            Kind = "pong"
	KindExecutionUpdate Kind = "execution_update"
	KindExecutionLog    Kind = "execution_log"
	KindNotification    Kind = "notification"
	KindAuxLog          Kind = "log"
	KindAuxComplete     Kind = "complete"

	KindSubscribe   Kind = "subscribe"
	KindUnsubscribe Kind = "unsubscribe"
	KindPing        Kind = "ping"
)

// Envelope is a decoded inbound frame. The set of implementations is closed:
// *Connected, *Subscribed, *Unsubscribed, *Pong, *ExecutionUpdate,
// *ExecutionLog, *Notification, *AuxLog, *AuxComplete and *Unknown.
type Envelope interface {
	Kind() Kind
	sealed()
}

// Connected is sent once by the server right after the connection opens.
// A multiplexed connection carries the channels that were requested at
// connect time and the identity assigned to this client; a task-scoped
// connection carries a single execution id instead.
type Connected struct {
	Channels    []string `json:"channels,omitempty"`
	ClientID    string   `json:"client_id,omitempty"`
	ExecutionID string   `json:"execution_id,omitempty"`
}

// Subscribed acknowledges a subscribe request for one channel.
type Subscribed struct {
	Channel string `json:"channel"`
}

// Unsubscribed acknowledges an unsubscribe request for one channel.
type Unsubscribed struct {
	Channel string `json:"channel"`
}

// Pong answers a heartbeat ping.
type Pong struct{}

// ExecutionUpdate reports a state change of a workflow execution (a task).
// Result is opaque to the stream.
type ExecutionUpdate struct {
	ExecutionID  string          `json:"execution_id"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	DurationMs   *float64        `json:"duration_ms,omitempty"`
	StartedAt    string          `json:"started_at,omitempty"`
	CompletedAt  string          `json:"completed_at,omitempty"`
	WorkflowID   string          `json:"workflow_id,omitempty"`
	WorkflowName string          `json:"workflow_name,omitempty"`
	TriggeredBy  string          `json:"triggered_by,omitempty"`
	Channel      string          `json:"channel,omitempty"`
}

// ExecutionLog is one log line emitted by a running execution.
type ExecutionLog struct {
	ExecutionID string          `json:"execution_id"`
	Level       string          `json:"level"`
	Message     string          `json:"message"`
	Sequence    *int64          `json:"sequence,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
	Channel     string          `json:"channel,omitempty"`
}

// Notification is a generic server notification, most commonly that a new
// execution was started.
type Notification struct {
	ID           string          `json:"id,omitempty"`
	Title        string          `json:"title,omitempty"`
	Message      string          `json:"message,omitempty"`
	Level        string          `json:"level,omitempty"`
	ExecutionID  string          `json:"execution_id,omitempty"`
	WorkflowID   string          `json:"workflow_id,omitempty"`
	WorkflowName string          `json:"workflow_name,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// AuxLog is a log line of an auxiliary long-running operation, such as a
// dependency installation.
type AuxLog struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// AuxComplete signals the end of an auxiliary operation.
type AuxComplete struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Unknown is a well-formed frame whose type is not recognized.
type Unknown struct {
	Type string
	Raw  []byte
}

// HistoryUpdate is the projection of an ExecutionUpdate delivered to
// consumers that keep an execution history list.
type HistoryUpdate struct {
	ExecutionID  string   `json:"execution_id"`
	Status       string   `json:"status"`
	WorkflowID   string   `json:"workflow_id,omitempty"`
	WorkflowName string   `json:"workflow_name,omitempty"`
	TriggeredBy  string   `json:"triggered_by,omitempty"`
	StartedAt    string   `json:"started_at,omitempty"`
	CompletedAt  string   `json:"completed_at,omitempty"`
	DurationMs   *float64 `json:"duration_ms,omitempty"`
	IsComplete   bool     `json:"is_complete"`
}

func (*Connected) Kind() Kind       { return KindConnected }
func (*Subscribed) Kind() Kind      { return KindSubscribed }
func (*Unsubscribed) Kind() Kind    { return KindUnsubscribed }
func (*Pong) Kind() Kind            { return KindPong }
func (*ExecutionUpdate) Kind() Kind { return KindExecutionUpdate }
func (*ExecutionLog) Kind() Kind    { return KindExecutionLog }
func (*Notification) Kind() Kind    { return KindNotification }
func (*AuxLog) Kind() Kind          { return KindAuxLog }
func (*AuxComplete) Kind() Kind     { return KindAuxComplete }
func (u *Unknown) Kind() Kind       { return Kind(u.Type) }

func (*Connected) sealed()       {}
func (*Subscribed) sealed()      {}
func (*Unsubscribed) sealed()    {}
func (*Pong) sealed()            {}
func (*ExecutionUpdate) sealed() {}
func (*ExecutionLog) sealed()    {}
func (*Notification) sealed()    {}
func (*AuxLog) sealed()          {}
func (*AuxComplete) sealed()     {}
func (*Unknown) sealed()         {}

// TaskID returns the correlation id of the update. Frames without an
// execution_id fall back to the id embedded in their channel name.
func (u *ExecutionUpdate) TaskID() string {
	if u.ExecutionID != "" {
		return u.ExecutionID
	}
	id, _ := TaskIDFromTopic(u.Channel)
	return id
}

// IsComplete reports whether the update carries a terminal status.
func (u *ExecutionUpdate) IsComplete() bool {
	return IsTerminal(u.Status)
}

// History projects the update onto the fields history consumers need.
func (u *ExecutionUpdate) History() HistoryUpdate {
	return HistoryUpdate{
		ExecutionID:  u.TaskID(),
		Status:       u.Status,
		WorkflowID:   u.WorkflowID,
		WorkflowName: u.WorkflowName,
		TriggeredBy:  u.TriggeredBy,
		StartedAt:    u.StartedAt,
		CompletedAt:  u.CompletedAt,
		DurationMs:   u.DurationMs,
		IsComplete:   u.IsComplete(),
	}
}

// TaskID returns the correlation id of the log line.
func (l *ExecutionLog) TaskID() string {
	if l.ExecutionID != "" {
		return l.ExecutionID
	}
	id, _ := TaskIDFromTopic(l.Channel)
	return id
}
