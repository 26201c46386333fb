package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"agent_relay/internal/agent"
	"agent_relay/internal/classify"
	"agent_relay/internal/config"
	"agent_relay/internal/coordinator"
	"agent_relay/internal/domain"
	"agent_relay/internal/mailbox"
	"agent_relay/internal/simulate"
	"agent_relay/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "config file path (default ~/.agent_relay.toml)")
	archiveFlag := flag.String("archive", "", "sqlite archive path (overrides config)")
	refreshFlag := flag.Duration("refresh", 0, "refresh interval (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	interval := durationMS(cfg.Monitor.RefreshMS, 500*time.Millisecond)
	if *refreshFlag > 0 {
		interval = *refreshFlag
	}

	app := tview.NewApplication()
	tasksTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	tasksTable.SetTitle("Tasks (Enter inspect, F5 refresh, F10 quit)").SetBorder(true)

	detailView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	detailView.SetTitle("Task Detail").SetBorder(true)
	detailView.SetText("No task selected")

	historyView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	historyView.SetTitle("Messages").SetBorder(true)

	agentsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	agentsView.SetTitle("Agents").SetBorder(true)

	logView := tview.NewTextView().
		SetWrap(false).
		ScrollToEnd()
	logView.SetTitle("Log").SetBorder(true)
	logView.SetChangedFunc(func() {
		app.Draw()
	})

	promptInput := tview.NewInputField().
		SetLabel("Task -> Planner: ")
	promptInput.SetBorder(true).SetTitle("Enter = submit task")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")

	rightTop := tview.NewFlex().
		AddItem(detailView, 0, 2, false).
		AddItem(historyView, 0, 1, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(rightTop, 0, 3, false).
		AddItem(agentsView, 5, 0, false).
		AddItem(logView, 0, 2, false)

	mainLayout := tview.NewFlex().
		AddItem(tasksTable, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(promptInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	// TextView locks internally, so the relay goroutines can log straight
	// into the pane.
	logger := log.New(logView, "", log.LstdFlags)

	var sink coordinator.Archive
	archivePath := firstNonEmpty(*archiveFlag, cfg.Archive.Path)
	if archivePath != "" {
		path := filepath.Clean(archivePath)
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				fmt.Fprintf(os.Stderr, "create archive dir: %v\n", err)
				os.Exit(1)
			}
		}
		ar, err := sqlite.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open archive: %v\n", err)
			os.Exit(1)
		}
		defer ar.Close()
		if err := ar.Migrate(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "migrate archive: %v\n", err)
			os.Exit(1)
		}
		logger.Printf("archiving session %s to %s", ar.Session(), path)
		sink = ar
	}

	hub := mailbox.New(cfg.Coordinator.MailboxCapacity)
	svc := coordinator.New(hub, sink, coordinator.Config{
		HistoryQueryLimit: cfg.Coordinator.HistoryQueryLimit,
	}, logger)
	sim := simulate.New(simulate.Config{
		MinStepDelay: durationMS(cfg.Simulate.MinStepDelayMS, 500*time.Millisecond),
		MaxStepDelay: durationMS(cfg.Simulate.MaxStepDelayMS, 1500*time.Millisecond),
	})

	planner := agent.NewPlanner(hub, svc, svc, classify.New(), logger)
	executor := agent.NewExecutor(hub, svc, svc, sim, "", logger)
	svc.Register(planner)
	svc.Register(executor)
	if err := planner.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "start planner: %v\n", err)
		os.Exit(1)
	}
	if err := executor.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "start executor: %v\n", err)
		os.Exit(1)
	}
	defer executor.Stop()
	defer planner.Stop()

	statusView.SetText(fmt.Sprintf(
		"refresh=%s archive=%s | shortcuts: F10 quit, F5 refresh, Ctrl+L focus prompt, Ctrl+T focus tasks",
		interval, orDash(archivePath),
	))

	var selectedTaskID string
	var lastTasks []domain.TaskRecord

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	// refreshAll may run on any goroutine; rendering and all access to
	// selectedTaskID/lastTasks happen inside QueueUpdateDraw.
	refreshAll := func() {
		tasks := svc.ListTasks()
		entries := svc.History(cfg.Coordinator.HistoryQueryLimit)
		states := svc.AgentStates()
		total := svc.HistoryLen()
		sort.Slice(tasks, func(i, j int) bool {
			return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
		})
		app.QueueUpdateDraw(func() {
			lastTasks = tasks
			if selectedTaskID == "" && len(tasks) > 0 {
				selectedTaskID = tasks[0].TaskID
			}
			renderTasksTable(tasksTable, tasks, selectedTaskID)
			historyView.SetText(renderHistory(entries, total))
			agentsView.SetText(renderAgents(states))
			if selectedTaskID == "" {
				return
			}
			rec, err := svc.Task(selectedTaskID)
			if err != nil {
				detailView.SetText(fmt.Sprintf("error: %v", err))
				return
			}
			detailView.SetText(renderTask(rec))
		})
	}

	submitPrompt := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		setStatusUI("Submitting task...")
		promptInput.SetText("")
		go func(description string) {
			taskID, err := svc.SubmitTask(context.Background(), description)
			if err != nil {
				setStatusAsync("Submit failed: " + err.Error())
				return
			}
			app.QueueUpdateDraw(func() {
				selectedTaskID = taskID
			})
			refreshAll()
			setStatusAsync("Submitted " + taskID)
		}(text)
	}

	promptInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		submitPrompt(promptInput.GetText())
	})

	tasksTable.SetSelectedFunc(func(row, _ int) {
		if row <= 0 || row > len(lastTasks) {
			return
		}
		selectedTaskID = lastTasks[row-1].TaskID
		refreshAll()
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if app.GetFocus() == promptInput {
			if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTAB {
				app.SetFocus(tasksTable)
				setStatusUI("Focus -> tasks")
				return nil
			}
			return event
		}

		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			refreshAll()
			setStatusUI("Manual refresh complete")
			return nil
		case tcell.KeyCtrlL:
			app.SetFocus(promptInput)
			setStatusUI("Focus -> prompt")
			return nil
		case tcell.KeyCtrlT:
			app.SetFocus(tasksTable)
			setStatusUI("Focus -> tasks")
			return nil
		case tcell.KeyEscape:
			app.SetFocus(tasksTable)
			setStatusUI("Focus -> tasks")
			return nil
		case tcell.KeyTAB:
			app.SetFocus(promptInput)
			return nil
		}
		if event.Key() == tcell.KeyRune {
			app.SetFocus(promptInput)
			return event
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		refreshAll()
		for range ticker.C {
			refreshAll()
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(promptInput).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func renderTasksTable(table *tview.Table, tasks []domain.TaskRecord, selectedTaskID string) {
	table.Clear()
	headers := []string{"Task", "Status", "Type", "Updated", "Description"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, t := range tasks {
		row := i + 1
		taskType := "-"
		if t.Plan != nil {
			taskType = string(t.Plan.Type)
		}
		table.SetCell(row, 0, tview.NewTableCell(t.TaskID))
		table.SetCell(row, 1, tview.NewTableCell(string(t.Status)))
		table.SetCell(row, 2, tview.NewTableCell(taskType))
		table.SetCell(row, 3, tview.NewTableCell(t.UpdatedAt.Format("15:04:05")))
		table.SetCell(row, 4, tview.NewTableCell(trimLine(t.Description, 48)))
		if t.TaskID == selectedTaskID {
			table.Select(row, 0)
		}
	}
}

func renderTask(rec domain.TaskRecord) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s  status=%s\n", rec.TaskID, rec.Status))
	b.WriteString(trimLine(rec.Description, 100) + "\n")
	if rec.Plan != nil {
		b.WriteString(fmt.Sprintf("\nPlan: %s, est %s\n", rec.Plan.Type, rec.Plan.EstimatedDuration))
		for _, sub := range rec.Plan.Subtasks {
			b.WriteString(fmt.Sprintf("  %d. %s\n", sub.Position+1, sub.Name))
		}
	}
	if len(rec.Results) > 0 {
		b.WriteString("\nResults:\n")
		for _, res := range rec.Results {
			b.WriteString(fmt.Sprintf(
				"  %-22s %-8s %s\n",
				res.Name, res.Status, res.Duration.Round(time.Millisecond),
			))
			b.WriteString("    " + trimLine(string(res.Output), 90) + "\n")
		}
	}
	if rec.Summary != "" {
		b.WriteString("\nSummary: " + rec.Summary + "\n")
	}
	return b.String()
}

func renderHistory(entries []domain.HistoryEntry, total int) string {
	if len(entries) == 0 {
		return "No messages"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("last %d of %d\n", len(entries), total))
	for _, e := range entries {
		b.WriteString(fmt.Sprintf(
			"#%-3d [%s] %s -> %s  %s\n",
			e.Seq,
			e.Message.CreatedAt.Format("15:04:05"),
			e.Message.Sender,
			e.Message.Recipient,
			e.Message.Kind,
		))
		if e.Undeliverable {
			b.WriteString("  undeliverable: " + trimLine(e.Note, 80) + "\n")
		}
	}
	return b.String()
}

func renderAgents(states map[string]string) string {
	if len(states) == 0 {
		return "No agents registered"
	}
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		b.WriteString(fmt.Sprintf("%-10s %s\n", name, states[name]))
	}
	return b.String()
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}
