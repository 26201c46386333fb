package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"agent_relay/internal/domain"
)

type Executor struct {
	core
	tracker  Tracker
	simulate Simulator
	observer string
}

func NewExecutor(hub Mailboxes, messenger Messenger, tracker Tracker, sim Simulator, observer string, logger *log.Logger) *Executor {
	if observer == "" {
		observer = domain.RolePlanner
	}
	return &Executor{
		core:     newCore(domain.RoleExecutor, hub, messenger, logger),
		tracker:  tracker,
		simulate: sim,
		observer: observer,
	}
}

func (e *Executor) Start(ctx context.Context) error {
	return e.start(ctx, e.handleMessage)
}

func (e *Executor) handleMessage(ctx context.Context, msg domain.Message) {
	switch msg.Kind {
	case domain.KindCollaborationRequest:
		e.handleCollaboration(ctx, msg)
	case domain.KindError:
		e.logErrorMessage(msg)
	default:
		e.replyUnhandled(ctx, msg)
	}
}

func (e *Executor) handleCollaboration(ctx context.Context, msg domain.Message) {
	var req domain.CollaborationRequestPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		e.logger.Printf("executor decode collaboration request failed: %v", err)
		e.sendError(ctx, msg, "", "", fmt.Sprintf("malformed collaboration request payload: %v", err))
		return
	}
	plan := req.Plan
	e.logger.Printf("executor starting %s: %d subtasks", plan.TaskID, len(plan.Subtasks))

	// Fail fast: the first failed subtask ends the run; later subtasks never start.
	results := make([]domain.SubtaskResult, 0, len(plan.Subtasks))
	for i, sub := range plan.Subtasks {
		res, err := e.simulate.Run(ctx, sub)
		if err != nil {
			res = domain.SubtaskResult{
				Name:   sub.Name,
				Status: domain.SubtaskFailed,
				Output: mustJSON(map[string]any{"error": err.Error()}),
			}
		}
		results = append(results, res)
		e.reportProgress(ctx, plan, sub.Name, i+1, res.Status, msg.CorrelationID)
		if res.Status == domain.SubtaskFailed {
			e.finish(ctx, msg, plan, results, true, fmt.Sprintf("failed at %s", sub.Name))
			return
		}
	}
	e.finish(ctx, msg, plan, results, false, fmt.Sprintf("completed %d subtasks", len(results)))
}

func (e *Executor) reportProgress(ctx context.Context, plan domain.TaskPlan, subtask string, position int, status domain.SubtaskStatus, corr string) {
	payload := mustJSON(domain.ProgressUpdatePayload{
		TaskID:   plan.TaskID,
		Subtask:  subtask,
		Position: position,
		Total:    len(plan.Subtasks),
		Status:   status,
	})
	update := domain.NewMessage(e.name, e.observer, domain.KindProgressUpdate, payload, corr)
	if err := e.messenger.Deliver(ctx, update); err != nil {
		e.logger.Printf("executor progress update for %s failed: %v", plan.TaskID, err)
	}
}

func (e *Executor) finish(ctx context.Context, cause domain.Message, plan domain.TaskPlan, results []domain.SubtaskResult, failed bool, summary string) {
	payload := mustJSON(domain.CompletionPayload{
		TaskID:  plan.TaskID,
		Failed:  failed,
		Results: results,
		Summary: summary,
	})
	done := domain.NewMessage(e.name, cause.Sender, domain.KindCompletion, payload, cause.CorrelationID)
	if err := e.messenger.Deliver(ctx, done); err != nil {
		e.logger.Printf("executor completion for %s undeliverable: %v", plan.TaskID, err)
		if ferr := e.tracker.FailTask(ctx, plan.TaskID, results, fmt.Sprintf("completion undeliverable: %v", err)); ferr != nil {
			e.logger.Printf("executor fail task %s: %v", plan.TaskID, ferr)
		}
		return
	}
	e.logger.Printf("executor finished %s: %s", plan.TaskID, summary)
}
