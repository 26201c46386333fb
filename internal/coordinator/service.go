package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"agent_relay/internal/domain"
	"agent_relay/internal/mailbox"
)

type Agent interface {
	Name() string
	Running() bool
}

type Hub interface {
	Deliver(msg domain.Message) error
}

type Archive interface {
	RecordTask(ctx context.Context, rec domain.TaskRecord) error
	RecordMessage(ctx context.Context, entry domain.HistoryEntry) error
}

type Config struct {
	HistoryQueryLimit int
}

func (c Config) withDefaults() Config {
	if c.HistoryQueryLimit <= 0 {
		c.HistoryQueryLimit = 10
	}
	return c
}

type Service struct {
	hub     Hub
	archive Archive
	cfg     Config
	logger  *log.Logger

	mu      sync.Mutex
	agents  map[string]Agent
	tasks   map[string]*domain.TaskRecord
	order   []string
	history []domain.HistoryEntry
	counter int
}

func New(hub Hub, archive Archive, cfg Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		hub:     hub,
		archive: archive,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		agents:  make(map[string]Agent),
		tasks:   make(map[string]*domain.TaskRecord),
	}
}

// Register is last write wins: a name maps to whichever agent claimed it most recently.
func (s *Service) Register(a Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.agents[a.Name()]; ok && prev != a {
		s.logger.Printf("coordinator replacing agent %s", a.Name())
	}
	s.agents[a.Name()] = a
}

func (s *Service) SubmitTask(ctx context.Context, description string) (string, error) {
	now := time.Now().UTC()
	s.mu.Lock()
	s.counter++
	taskID := fmt.Sprintf("task_%d_%d", s.counter, now.Unix())
	rec := &domain.TaskRecord{
		TaskID:      taskID,
		Description: description,
		Status:      domain.TaskSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[taskID] = rec
	s.order = append(s.order, taskID)

	// The task id doubles as the correlation id so every message of the
	// chain ties back to one record.
	msg := domain.NewMessage(domain.SenderUser, domain.RolePlanner, domain.KindTaskRequest,
		mustJSON(domain.TaskRequestPayload{TaskID: taskID, Description: description}), taskID)
	entry, err := s.deliverLocked(msg)
	if err != nil {
		rec.Status = domain.TaskFailed
		rec.Summary = fmt.Sprintf("submit: %v", err)
		rec.UpdatedAt = time.Now().UTC()
	}
	snapshot := cloneRecord(*rec)
	s.mu.Unlock()

	s.archiveTask(ctx, snapshot)
	s.archiveMessage(ctx, entry)
	if err != nil {
		return taskID, err
	}
	s.logger.Printf("coordinator submitted %s: %s", taskID, trim(description, 60))
	return taskID, nil
}

func (s *Service) Deliver(ctx context.Context, msg domain.Message) error {
	s.mu.Lock()
	entry, err := s.deliverLocked(msg)
	s.mu.Unlock()

	s.archiveMessage(ctx, entry)
	return err
}

// deliverLocked appends the history entry and enqueues under one lock so a
// reply can never appear in history before the message that caused it.
func (s *Service) deliverLocked(msg domain.Message) (domain.HistoryEntry, error) {
	entry := domain.HistoryEntry{Seq: len(s.history) + 1, Message: msg}
	var err error
	a, ok := s.agents[msg.Recipient]
	switch {
	case !ok:
		err = fmt.Errorf("deliver to %s: %w", msg.Recipient, domain.ErrUnknownRecipient)
	case !a.Running():
		err = fmt.Errorf("deliver to %s: %w", msg.Recipient, domain.ErrAgentNotRunning)
	default:
		if derr := s.hub.Deliver(msg); derr != nil {
			if errors.Is(derr, mailbox.ErrNoMailbox) {
				derr = domain.ErrAgentNotRunning
			}
			err = fmt.Errorf("deliver to %s: %w", msg.Recipient, derr)
		}
	}
	if err != nil {
		entry.Undeliverable = true
		entry.Note = err.Error()
		s.logger.Printf("coordinator %v", err)
	}
	s.history = append(s.history, entry)
	return entry, err
}

func (s *Service) MarkPlanning(ctx context.Context, taskID string) error {
	return s.transition(ctx, taskID, domain.TaskPlanning, nil, "")
}

func (s *Service) MarkExecuting(ctx context.Context, taskID string) error {
	return s.transition(ctx, taskID, domain.TaskExecuting, nil, "")
}

func (s *Service) CompleteTask(ctx context.Context, taskID string, results []domain.SubtaskResult, summary string) error {
	return s.transition(ctx, taskID, domain.TaskCompleted, results, summary)
}

func (s *Service) FailTask(ctx context.Context, taskID string, results []domain.SubtaskResult, summary string) error {
	return s.transition(ctx, taskID, domain.TaskFailed, results, summary)
}

func (s *Service) StorePlan(ctx context.Context, plan domain.TaskPlan) error {
	s.mu.Lock()
	rec, ok := s.tasks[plan.TaskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s: %w", plan.TaskID, domain.ErrUnknownTask)
	}
	planCopy := plan
	rec.Plan = &planCopy
	rec.UpdatedAt = time.Now().UTC()
	snapshot := cloneRecord(*rec)
	s.mu.Unlock()

	s.archiveTask(ctx, snapshot)
	return nil
}

func (s *Service) TaskStatus(taskID string) (domain.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[taskID]
	if !ok {
		return "", fmt.Errorf("task %s: %w", taskID, domain.ErrUnknownTask)
	}
	return rec.Status, nil
}

func (s *Service) Task(taskID string) (domain.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[taskID]
	if !ok {
		return domain.TaskRecord{}, fmt.Errorf("task %s: %w", taskID, domain.ErrUnknownTask)
	}
	return cloneRecord(*rec), nil
}

func (s *Service) ListTasks() []domain.TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TaskRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneRecord(*s.tasks[id]))
	}
	return out
}

func (s *Service) History(limit int) []domain.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = s.cfg.HistoryQueryLimit
	}
	start := len(s.history) - limit
	if start < 0 {
		start = 0
	}
	out := make([]domain.HistoryEntry, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

func (s *Service) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *Service) AgentStates() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.agents))
	for name, a := range s.agents {
		state := "stopped"
		if a.Running() {
			state = "running"
		}
		out[name] = state
	}
	return out
}

func (s *Service) transition(ctx context.Context, taskID string, next domain.TaskStatus, results []domain.SubtaskResult, summary string) error {
	s.mu.Lock()
	rec, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s: %w", taskID, domain.ErrUnknownTask)
	}
	if rec.Status.Final() || next.Rank() <= rec.Status.Rank() {
		cur := rec.Status
		s.mu.Unlock()
		return fmt.Errorf("task %s is %s, cannot become %s: %w", taskID, cur, next, domain.ErrInvalidTransition)
	}
	rec.Status = next
	if results != nil {
		rec.Results = results
	}
	if summary != "" {
		rec.Summary = summary
	}
	rec.UpdatedAt = time.Now().UTC()
	snapshot := cloneRecord(*rec)
	s.mu.Unlock()

	s.archiveTask(ctx, snapshot)
	return nil
}

func (s *Service) archiveTask(ctx context.Context, rec domain.TaskRecord) {
	if s.archive == nil {
		return
	}
	if err := s.archive.RecordTask(ctx, rec); err != nil {
		s.logger.Printf("coordinator archive task %s failed: %v", rec.TaskID, err)
	}
}

func (s *Service) archiveMessage(ctx context.Context, entry domain.HistoryEntry) {
	if s.archive == nil || entry.Seq == 0 {
		return
	}
	if err := s.archive.RecordMessage(ctx, entry); err != nil {
		s.logger.Printf("coordinator archive message %d failed: %v", entry.Seq, err)
	}
}

func cloneRecord(rec domain.TaskRecord) domain.TaskRecord {
	if rec.Plan != nil {
		plan := *rec.Plan
		plan.Subtasks = append([]domain.SubtaskSpec(nil), rec.Plan.Subtasks...)
		rec.Plan = &plan
	}
	rec.Results = append([]domain.SubtaskResult(nil), rec.Results...)
	return rec
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func trim(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
