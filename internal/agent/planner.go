package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"agent_relay/internal/domain"
)

type Planner struct {
	core
	tracker  Tracker
	classify Classifier
}

func NewPlanner(hub Mailboxes, messenger Messenger, tracker Tracker, classifier Classifier, logger *log.Logger) *Planner {
	return &Planner{
		core:     newCore(domain.RolePlanner, hub, messenger, logger),
		tracker:  tracker,
		classify: classifier,
	}
}

func (p *Planner) Start(ctx context.Context) error {
	return p.start(ctx, p.handleMessage)
}

func (p *Planner) handleMessage(ctx context.Context, msg domain.Message) {
	switch msg.Kind {
	case domain.KindTaskRequest:
		p.handleTaskRequest(ctx, msg)
	case domain.KindProgressUpdate:
		p.handleProgress(msg)
	case domain.KindCompletion:
		p.handleCompletion(ctx, msg)
	case domain.KindError:
		p.logErrorMessage(msg)
	default:
		p.replyUnhandled(ctx, msg)
	}
}

func (p *Planner) handleTaskRequest(ctx context.Context, msg domain.Message) {
	var req domain.TaskRequestPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		p.logger.Printf("planner decode task request failed: %v", err)
		p.sendError(ctx, msg, "", "", fmt.Sprintf("malformed task request payload: %v", err))
		return
	}
	if err := p.tracker.MarkPlanning(ctx, req.TaskID); err != nil {
		p.logger.Printf("planner mark planning %s failed: %v", req.TaskID, err)
		p.sendError(ctx, msg, req.TaskID, taskErrorCode(err), err.Error())
		return
	}

	plan := p.classify.Plan(req.TaskID, req.Description)
	if err := p.tracker.StorePlan(ctx, plan); err != nil {
		p.logger.Printf("planner store plan for %s failed: %v", req.TaskID, err)
	}
	if err := p.tracker.MarkExecuting(ctx, req.TaskID); err != nil {
		p.logger.Printf("planner mark executing %s failed: %v", req.TaskID, err)
		p.sendError(ctx, msg, req.TaskID, taskErrorCode(err), err.Error())
		return
	}

	ask := domain.NewMessage(p.name, domain.RoleExecutor, domain.KindCollaborationRequest,
		mustJSON(domain.CollaborationRequestPayload{Plan: plan}), msg.CorrelationID)
	if err := p.messenger.Deliver(ctx, ask); err != nil {
		p.logger.Printf("planner delegate %s failed: %v", req.TaskID, err)
		reason := fmt.Sprintf("delegate to %s: %v", domain.RoleExecutor, err)
		if ferr := p.tracker.FailTask(ctx, req.TaskID, nil, reason); ferr != nil {
			p.logger.Printf("planner fail task %s: %v", req.TaskID, ferr)
		}
		return
	}
	p.logger.Printf("planner delegated %s: %s, %d subtasks, est %s",
		req.TaskID, plan.Type, len(plan.Subtasks), plan.EstimatedDuration)
}

func (p *Planner) handleProgress(msg domain.Message) {
	var up domain.ProgressUpdatePayload
	if err := json.Unmarshal(msg.Payload, &up); err != nil {
		p.logger.Printf("planner decode progress update failed: %v", err)
		return
	}
	p.logger.Printf("planner progress %s: %s (%d/%d) %s", up.TaskID, up.Subtask, up.Position, up.Total, up.Status)
}

func (p *Planner) handleCompletion(ctx context.Context, msg domain.Message) {
	var done domain.CompletionPayload
	if err := json.Unmarshal(msg.Payload, &done); err != nil {
		p.logger.Printf("planner decode completion failed: %v", err)
		p.sendError(ctx, msg, "", "", fmt.Sprintf("malformed completion payload: %v", err))
		return
	}
	status := domain.TaskCompleted
	record := p.tracker.CompleteTask
	if done.Failed {
		status = domain.TaskFailed
		record = p.tracker.FailTask
	}
	if err := record(ctx, done.TaskID, done.Results, done.Summary); err != nil {
		p.logger.Printf("planner record completion for %s failed: %v", done.TaskID, err)
		p.sendError(ctx, msg, done.TaskID, taskErrorCode(err), err.Error())
		return
	}
	p.logger.Printf("planner task %s %s: %s", done.TaskID, status, done.Summary)
}

func taskErrorCode(err error) string {
	if errors.Is(err, domain.ErrUnknownTask) {
		return domain.ErrCodeUnknownTask
	}
	return ""
}
