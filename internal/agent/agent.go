package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"agent_relay/internal/domain"
)

type Mailboxes interface {
	Open(name string) <-chan domain.Message
	Close(name string)
}

type Messenger interface {
	Deliver(ctx context.Context, msg domain.Message) error
}

type Tracker interface {
	MarkPlanning(ctx context.Context, taskID string) error
	StorePlan(ctx context.Context, plan domain.TaskPlan) error
	MarkExecuting(ctx context.Context, taskID string) error
	CompleteTask(ctx context.Context, taskID string, results []domain.SubtaskResult, summary string) error
	FailTask(ctx context.Context, taskID string, results []domain.SubtaskResult, summary string) error
}

type Classifier interface {
	Plan(taskID, description string) domain.TaskPlan
}

// The executor blocks on Run between subtasks. No timeout is enforced; a
// Run that never returns hangs the run.
type Simulator interface {
	Run(ctx context.Context, sub domain.SubtaskSpec) (domain.SubtaskResult, error)
}

var ErrAgentStopped = errors.New("agent has been stopped")

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

type handlerFunc func(ctx context.Context, msg domain.Message)

type core struct {
	name      string
	tag       string
	hub       Mailboxes
	messenger Messenger
	logger    *log.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

func newCore(name string, hub Mailboxes, messenger Messenger, logger *log.Logger) core {
	if logger == nil {
		logger = log.Default()
	}
	return core{
		name:      name,
		tag:       strings.ToLower(name),
		hub:       hub,
		messenger: messenger,
		logger:    logger,
		state:     StateIdle,
	}
}

func (c *core) Name() string {
	return c.name
}

func (c *core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *core) Running() bool {
	return c.State() == StateRunning
}

func (c *core) start(ctx context.Context, handle handlerFunc) error {
	c.mu.Lock()
	switch c.state {
	case StateRunning:
		c.mu.Unlock()
		return nil
	case StateStopped:
		c.mu.Unlock()
		return ErrAgentStopped
	}
	runCtx, cancel := context.WithCancel(ctx)
	ch := c.hub.Open(c.name)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = StateRunning
	c.mu.Unlock()

	c.logger.Printf("%s started", c.tag)
	go c.loop(runCtx, ch, handle)
	return nil
}

// Stop is terminal: a stopped agent refuses to start again.
func (c *core) Stop() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.state = StateStopped
		c.mu.Unlock()
		return
	}
	c.state = StateStopped
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	c.hub.Close(c.name)
	<-done
	c.logger.Printf("%s stopped", c.tag)
}

func (c *core) loop(ctx context.Context, ch <-chan domain.Message, handle handlerFunc) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.hub.Close(c.name)
			c.markStopped()
			return
		case msg, ok := <-ch:
			if !ok {
				c.markStopped()
				return
			}
			// Messages buffered before a cancel are dropped, not handled.
			if ctx.Err() != nil {
				c.hub.Close(c.name)
				c.markStopped()
				return
			}
			handle(ctx, msg)
		}
	}
}

func (c *core) markStopped() {
	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
}

func (c *core) sendError(ctx context.Context, cause domain.Message, taskID, code, reason string) {
	payload := mustJSON(domain.ErrorPayload{TaskID: taskID, Code: code, Reason: reason})
	reply := domain.NewMessage(c.name, cause.Sender, domain.KindError, payload, cause.CorrelationID)
	if err := c.messenger.Deliver(ctx, reply); err != nil {
		c.logger.Printf("%s error reply to %s failed: %v", c.tag, cause.Sender, err)
	}
}

func (c *core) replyUnhandled(ctx context.Context, msg domain.Message) {
	c.logger.Printf("%s cannot handle %s from %s", c.tag, msg.Kind, msg.Sender)
	c.sendError(ctx, msg, "", domain.ErrCodeUnhandledKind, fmt.Sprintf("%s does not handle %s messages", c.tag, msg.Kind))
}

// Error messages are terminal; they are logged and never answered.
func (c *core) logErrorMessage(msg domain.Message) {
	var ep domain.ErrorPayload
	if err := json.Unmarshal(msg.Payload, &ep); err != nil {
		c.logger.Printf("%s received unreadable error from %s: %v", c.tag, msg.Sender, err)
		return
	}
	detail := ep.Reason
	if ep.Code != "" {
		detail = ep.Code + ": " + ep.Reason
	}
	c.logger.Printf("%s received error from %s: %s", c.tag, msg.Sender, detail)
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
