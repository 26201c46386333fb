package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"agent_relay/internal/domain"
)

func newTestArchive(t *testing.T, dbPath string) *Archive {
	t.Helper()
	arch, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { _ = arch.Close() })
	if err := arch.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return arch
}

func TestRecordTaskUpsert(t *testing.T) {
	arch := newTestArchive(t, filepath.Join(t.TempDir(), "relay.db"))
	ctx := context.Background()
	now := time.Now().UTC()

	rec := domain.TaskRecord{
		TaskID:      "task_1_100",
		Description: "Analyze sales data",
		Status:      domain.TaskSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := arch.RecordTask(ctx, rec); err != nil {
		t.Fatalf("record submitted: %v", err)
	}

	rec.Status = domain.TaskCompleted
	rec.Plan = &domain.TaskPlan{
		TaskID:            rec.TaskID,
		Description:       rec.Description,
		Type:              domain.TypeDataAnalysis,
		Subtasks:          []domain.SubtaskSpec{{Name: "collect_data"}, {Name: "clean_data", Position: 1}},
		EstimatedDuration: 4 * time.Second,
	}
	rec.Results = []domain.SubtaskResult{
		{Name: "collect_data", Status: domain.SubtaskSuccess},
		{Name: "clean_data", Status: domain.SubtaskSuccess},
	}
	rec.Summary = "completed 2 subtasks"
	rec.UpdatedAt = now.Add(time.Second)
	if err := arch.RecordTask(ctx, rec); err != nil {
		t.Fatalf("record completed: %v", err)
	}

	tasks, err := arch.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("upsert must keep one row per task, got %d", len(tasks))
	}
	got := tasks[0]
	if got.Status != domain.TaskCompleted || got.Summary != "completed 2 subtasks" {
		t.Fatalf("unexpected task row: %+v", got)
	}
	if got.Plan == nil || got.Plan.Type != domain.TypeDataAnalysis || len(got.Plan.Subtasks) != 2 {
		t.Fatalf("unexpected plan: %+v", got.Plan)
	}
	if len(got.Results) != 2 || got.Results[1].Name != "clean_data" {
		t.Fatalf("unexpected results: %+v", got.Results)
	}
	if got.CreatedAt.Unix() != now.Unix() {
		t.Fatalf("created_at changed on update: %v vs %v", got.CreatedAt, now)
	}
}

func TestRecordMessagesRoundTrip(t *testing.T) {
	arch := newTestArchive(t, filepath.Join(t.TempDir(), "relay.db"))
	ctx := context.Background()

	first := domain.HistoryEntry{
		Seq: 1,
		Message: domain.NewMessage(domain.SenderUser, domain.RolePlanner, domain.KindTaskRequest,
			[]byte(`{"task_id":"task_1_100","description":"Analyze"}`), "corr-1"),
	}
	second := domain.HistoryEntry{
		Seq:           2,
		Message:       domain.NewMessage(domain.SenderUser, "Auditor", domain.KindTaskRequest, nil, "corr-2"),
		Undeliverable: true,
		Note:          "deliver to Auditor: unknown recipient",
	}
	for _, entry := range []domain.HistoryEntry{first, second} {
		if err := arch.RecordMessage(ctx, entry); err != nil {
			t.Fatalf("record message %d: %v", entry.Seq, err)
		}
	}

	entries, err := arch.ListMessages(ctx, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(entries))
	}
	if entries[0].Seq != 1 || entries[1].Seq != 2 {
		t.Fatalf("messages out of order: %+v", entries)
	}
	if string(entries[0].Message.Payload) != `{"task_id":"task_1_100","description":"Analyze"}` {
		t.Fatalf("payload mangled: %s", entries[0].Message.Payload)
	}
	if entries[0].Message.CorrelationID != "corr-1" || entries[0].Message.Kind != domain.KindTaskRequest {
		t.Fatalf("unexpected first message: %+v", entries[0].Message)
	}
	if !entries[1].Undeliverable || entries[1].Note == "" {
		t.Fatalf("undeliverable flag lost: %+v", entries[1])
	}

	limited, err := arch.ListMessages(ctx, 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].Seq != 1 {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "relay.db")
	ctx := context.Background()
	now := time.Now().UTC()

	one := newTestArchive(t, dbPath)
	two := newTestArchive(t, dbPath)
	if one.Session() == two.Session() {
		t.Fatal("sessions must get distinct ids")
	}

	rec := domain.TaskRecord{TaskID: "task_1_100", Description: "a", Status: domain.TaskSubmitted, CreatedAt: now, UpdatedAt: now}
	if err := one.RecordTask(ctx, rec); err != nil {
		t.Fatalf("record in first session: %v", err)
	}
	if err := two.RecordTask(ctx, rec); err != nil {
		t.Fatalf("record in second session: %v", err)
	}

	tasks, err := one.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list first session: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("session must only see its own rows, got %d", len(tasks))
	}
}
