package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownTask       = errors.New("unknown task")
	ErrUnknownRecipient  = errors.New("unknown recipient")
	ErrAgentNotRunning   = errors.New("agent is not running")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

type MessageKind string

const (
	KindTaskRequest          MessageKind = "task_request"
	KindCollaborationRequest MessageKind = "collaboration_request"
	KindProgressUpdate       MessageKind = "progress_update"
	KindCompletion           MessageKind = "completion"
	KindError                MessageKind = "error"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindTaskRequest, KindCollaborationRequest, KindProgressUpdate, KindCompletion, KindError:
		return true
	default:
		return false
	}
}

type TaskStatus string

const (
	TaskSubmitted TaskStatus = "submitted"
	TaskPlanning  TaskStatus = "planning"
	TaskExecuting TaskStatus = "executing"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

func (s TaskStatus) Rank() int {
	switch s {
	case TaskSubmitted:
		return 0
	case TaskPlanning:
		return 1
	case TaskExecuting:
		return 2
	case TaskCompleted, TaskFailed:
		return 3
	default:
		return -1
	}
}

func (s TaskStatus) Final() bool {
	return s == TaskCompleted || s == TaskFailed
}

type TaskType string

const (
	TypeDataAnalysis   TaskType = "data_analysis"
	TypeWebScraping    TaskType = "web_scraping"
	TypeCalculation    TaskType = "calculation"
	TypeTextProcessing TaskType = "text_processing"
	TypeGeneric        TaskType = "generic"
)

type SubtaskStatus string

const (
	SubtaskSuccess SubtaskStatus = "success"
	SubtaskFailed  SubtaskStatus = "failed"
)

const (
	SenderUser   = "User"
	RolePlanner  = "Planner"
	RoleExecutor = "Executor"
)

const (
	ErrCodeUnhandledKind = "unhandled_kind"
	ErrCodeUnknownTask   = "unknown_task"
)

type Message struct {
	ID            string          `json:"id"`
	Sender        string          `json:"sender"`
	Recipient     string          `json:"recipient"`
	Kind          MessageKind     `json:"kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

func NewMessage(sender, recipient string, kind MessageKind, payload json.RawMessage, correlationID string) Message {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Message{
		ID:            uuid.NewString(),
		Sender:        sender,
		Recipient:     recipient,
		Kind:          kind,
		Payload:       payload,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}
}

type SubtaskSpec struct {
	Name     string            `json:"name"`
	Position int               `json:"position"`
	Params   map[string]string `json:"params,omitempty"`
}

type TaskPlan struct {
	TaskID            string        `json:"task_id"`
	Description       string        `json:"description"`
	Type              TaskType      `json:"type"`
	Subtasks          []SubtaskSpec `json:"subtasks"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

type SubtaskResult struct {
	Name     string          `json:"name"`
	Status   SubtaskStatus   `json:"status"`
	Output   json.RawMessage `json:"output,omitempty"`
	Duration time.Duration   `json:"duration"`
}

type TaskRecord struct {
	TaskID      string          `json:"task_id"`
	Description string          `json:"description"`
	Status      TaskStatus      `json:"status"`
	Plan        *TaskPlan       `json:"plan,omitempty"`
	Results     []SubtaskResult `json:"results,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type HistoryEntry struct {
	Seq           int     `json:"seq"`
	Message       Message `json:"message"`
	Undeliverable bool    `json:"undeliverable,omitempty"`
	Note          string  `json:"note,omitempty"`
}

type TaskRequestPayload struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
}

type CollaborationRequestPayload struct {
	Plan TaskPlan `json:"plan"`
}

type ProgressUpdatePayload struct {
	TaskID   string        `json:"task_id"`
	Subtask  string        `json:"subtask"`
	Position int           `json:"position"`
	Total    int           `json:"total"`
	Status   SubtaskStatus `json:"status"`
}

type CompletionPayload struct {
	TaskID  string          `json:"task_id"`
	Failed  bool            `json:"failed,omitempty"`
	Results []SubtaskResult `json:"results,omitempty"`
	Summary string          `json:"summary"`
}

type ErrorPayload struct {
	TaskID string `json:"task_id,omitempty"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason"`
}
