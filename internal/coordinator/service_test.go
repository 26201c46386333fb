package coordinator

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"strings"
	"testing"
	"time"

	"agent_relay/internal/agent"
	"agent_relay/internal/classify"
	"agent_relay/internal/domain"
	"agent_relay/internal/mailbox"
	"agent_relay/internal/simulate"
)

type harness struct {
	svc      *Service
	hub      *mailbox.Hub
	planner  *agent.Planner
	executor *agent.Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	hub := mailbox.New(16)
	svc := New(hub, nil, Config{}, logger)

	sim := simulate.New(simulate.Config{MinStepDelay: time.Millisecond, MaxStepDelay: 2 * time.Millisecond})
	planner := agent.NewPlanner(hub, svc, svc, classify.New(), logger)
	executor := agent.NewExecutor(hub, svc, svc, sim, "", logger)
	svc.Register(planner)
	svc.Register(executor)

	ctx, cancel := context.WithCancel(context.Background())
	if err := planner.Start(ctx); err != nil {
		t.Fatalf("start planner: %v", err)
	}
	if err := executor.Start(ctx); err != nil {
		t.Fatalf("start executor: %v", err)
	}
	t.Cleanup(func() {
		executor.Stop()
		planner.Stop()
		cancel()
	})
	return &harness{svc: svc, hub: hub, planner: planner, executor: executor}
}

func waitTaskStatus(t *testing.T, svc *Service, taskID string, want domain.TaskStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := svc.TaskStatus(taskID)
		if err == nil && status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	status, err := svc.TaskStatus(taskID)
	t.Fatalf("task %s never reached %s (last %s, err %v)", taskID, want, status, err)
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSubmitTaskRunsToCompletion(t *testing.T) {
	h := newHarness(t)

	id, err := h.svc.SubmitTask(context.Background(), "Analyze sales data from Q3 2024 and generate insights report")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.HasPrefix(id, "task_1_") {
		t.Fatalf("unexpected task id %s", id)
	}
	waitTaskStatus(t, h.svc, id, domain.TaskCompleted)

	rec, err := h.svc.Task(id)
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	if rec.Plan == nil || rec.Plan.Type != domain.TypeDataAnalysis {
		t.Fatalf("expected data_analysis plan on record, got %+v", rec.Plan)
	}
	want := []string{"collect_data", "clean_data", "analyze_data", "generate_report"}
	if len(rec.Results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(rec.Results))
	}
	for i, res := range rec.Results {
		if res.Name != want[i] || res.Status != domain.SubtaskSuccess {
			t.Fatalf("result %d: expected %s success, got %+v", i, want[i], res)
		}
	}
	if rec.Summary != "completed 4 subtasks" {
		t.Fatalf("unexpected summary %q", rec.Summary)
	}

	entries := h.svc.History(0)
	if len(entries) != 7 {
		t.Fatalf("expected 7 history entries, got %d", len(entries))
	}
	if entries[0].Message.Kind != domain.KindTaskRequest {
		t.Fatalf("history must start with the task request, got %s", entries[0].Message.Kind)
	}
	if entries[1].Message.Kind != domain.KindCollaborationRequest {
		t.Fatalf("delegation must follow the request, got %s", entries[1].Message.Kind)
	}
	if last := entries[len(entries)-1]; last.Message.Kind != domain.KindCompletion {
		t.Fatalf("history must end with the completion, got %s", last.Message.Kind)
	}
	for i, e := range entries {
		if e.Seq != i+1 {
			t.Fatalf("entry %d: expected seq %d, got %d", i, i+1, e.Seq)
		}
		if e.Undeliverable {
			t.Fatalf("entry %d unexpectedly undeliverable: %s", i, e.Note)
		}
		if e.Message.CorrelationID != id {
			t.Fatalf("entry %d: correlation %s does not tie back to %s", i, e.Message.CorrelationID, id)
		}
	}
}

func TestSubmitTaskEmptyDescription(t *testing.T) {
	h := newHarness(t)

	id, err := h.svc.SubmitTask(context.Background(), "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTaskStatus(t, h.svc, id, domain.TaskCompleted)

	rec, err := h.svc.Task(id)
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	if rec.Plan == nil || rec.Plan.Type != domain.TypeGeneric {
		t.Fatalf("expected generic fallback plan, got %+v", rec.Plan)
	}
	if rec.Results[0].Name != "understand_requirements" {
		t.Fatalf("unexpected first result %+v", rec.Results[0])
	}
}

func TestDeliverToUnknownRecipient(t *testing.T) {
	h := newHarness(t)

	before := h.svc.HistoryLen()
	msg := domain.NewMessage(domain.SenderUser, "Auditor", domain.KindTaskRequest, nil, "")
	err := h.svc.Deliver(context.Background(), msg)
	if !errors.Is(err, domain.ErrUnknownRecipient) {
		t.Fatalf("expected ErrUnknownRecipient, got %v", err)
	}
	if h.svc.HistoryLen() != before+1 {
		t.Fatal("undeliverable messages must still be recorded")
	}
	entries := h.svc.History(1)
	last := entries[len(entries)-1]
	if !last.Undeliverable || last.Message.Recipient != "Auditor" || last.Note == "" {
		t.Fatalf("expected flagged history entry, got %+v", last)
	}
}

func TestDeliverToStoppedAgent(t *testing.T) {
	h := newHarness(t)
	h.executor.Stop()

	msg := domain.NewMessage(domain.RolePlanner, domain.RoleExecutor, domain.KindCollaborationRequest, nil, "")
	err := h.svc.Deliver(context.Background(), msg)
	if !errors.Is(err, domain.ErrAgentNotRunning) {
		t.Fatalf("expected ErrAgentNotRunning, got %v", err)
	}
}

func TestSubmitFailsTaskWhenExecutorStopped(t *testing.T) {
	h := newHarness(t)
	h.executor.Stop()

	id, err := h.svc.SubmitTask(context.Background(), "Calculate compound interest")
	if err != nil {
		t.Fatalf("submit should still reach the planner: %v", err)
	}
	waitTaskStatus(t, h.svc, id, domain.TaskFailed)

	rec, err := h.svc.Task(id)
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	if !strings.Contains(rec.Summary, "delegate to Executor") {
		t.Fatalf("expected delegation failure summary, got %q", rec.Summary)
	}

	second, err := h.svc.SubmitTask(context.Background(), "Format the release notes")
	if err != nil {
		t.Fatalf("coordinator must keep serving submissions: %v", err)
	}
	if second == id {
		t.Fatalf("task ids must stay unique, got %s twice", second)
	}
	waitTaskStatus(t, h.svc, second, domain.TaskFailed)
}

func TestSubmitWhenPlannerStopped(t *testing.T) {
	h := newHarness(t)
	h.planner.Stop()

	before := h.svc.HistoryLen()
	id, err := h.svc.SubmitTask(context.Background(), "Process meeting notes")
	if !errors.Is(err, domain.ErrAgentNotRunning) {
		t.Fatalf("expected ErrAgentNotRunning, got %v", err)
	}
	status, serr := h.svc.TaskStatus(id)
	if serr != nil || status != domain.TaskFailed {
		t.Fatalf("expected failed record, got %s (%v)", status, serr)
	}
	entries := h.svc.History(0)
	if h.svc.HistoryLen() != before+1 || !entries[len(entries)-1].Undeliverable {
		t.Fatal("expected the undeliverable request in history")
	}
}

func TestHistoryQueryIsPure(t *testing.T) {
	h := newHarness(t)

	id, err := h.svc.SubmitTask(context.Background(), "Process text for the handbook")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTaskStatus(t, h.svc, id, domain.TaskCompleted)

	first := h.svc.History(3)
	second := h.svc.History(3)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("reading history must not change it")
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(first))
	}
	if total := h.svc.HistoryLen(); total != 7 {
		t.Fatalf("expected 7 recorded messages, got %d", total)
	}
	if got := len(h.svc.History(0)); got != 7 {
		t.Fatalf("default limit should cover the run, got %d", got)
	}
	if got := len(h.svc.History(100)); got != 7 {
		t.Fatalf("oversized limit should return everything, got %d", got)
	}
	all := h.svc.History(100)
	if first[2].Seq != all[len(all)-1].Seq {
		t.Fatal("limited query must return the newest entries")
	}
}

func TestTransitionsAreMonotone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.svc.SubmitTask(ctx, "Process text")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTaskStatus(t, h.svc, id, domain.TaskCompleted)

	if err := h.svc.MarkPlanning(ctx, id); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := h.svc.FailTask(ctx, id, nil, "late failure"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("completed task must stay completed, got %v", err)
	}
	status, _ := h.svc.TaskStatus(id)
	if status != domain.TaskCompleted {
		t.Fatalf("status regressed to %s", status)
	}
	if err := h.svc.MarkExecuting(ctx, "task_999_1"); !errors.Is(err, domain.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestRegisterReplacesAgent(t *testing.T) {
	h := newHarness(t)

	states := h.svc.AgentStates()
	if states[domain.RolePlanner] != "running" || states[domain.RoleExecutor] != "running" {
		t.Fatalf("expected both agents running, got %v", states)
	}

	logger := log.New(io.Discard, "", 0)
	sim := simulate.New(simulate.Config{MinStepDelay: time.Millisecond, MaxStepDelay: 2 * time.Millisecond})
	replacement := agent.NewExecutor(h.hub, h.svc, h.svc, sim, "", logger)
	h.svc.Register(replacement)
	if err := replacement.Start(context.Background()); err != nil {
		t.Fatalf("start replacement: %v", err)
	}
	t.Cleanup(replacement.Stop)

	waitForCondition(t, 2*time.Second, func() bool {
		return !h.executor.Running()
	}, "old executor should lose its mailbox and stop")
	if got := h.svc.AgentStates()[domain.RoleExecutor]; got != "running" {
		t.Fatalf("registry must point at the replacement, got %s", got)
	}

	id, err := h.svc.SubmitTask(context.Background(), "Analyze churn data")
	if err != nil {
		t.Fatalf("submit after replacement: %v", err)
	}
	waitTaskStatus(t, h.svc, id, domain.TaskCompleted)
}
