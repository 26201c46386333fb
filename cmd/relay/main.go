package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"agent_relay/internal/agent"
	"agent_relay/internal/classify"
	"agent_relay/internal/config"
	"agent_relay/internal/coordinator"
	"agent_relay/internal/demo"
	"agent_relay/internal/mailbox"
	"agent_relay/internal/simulate"
	sqlitestore "agent_relay/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config toml (default: ~/.agent_relay.toml)")
	archiveFlag := flag.String("archive", "", "sqlite archive path override")
	demoFlag := flag.Bool("demo", false, "run every demo scenario and exit")
	scenarioFlag := flag.String("scenario", "", "run a single demo scenario and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var sink coordinator.Archive
	archivePath := firstNonEmpty(*archiveFlag, cfg.Archive.Path)
	if archivePath != "" {
		archivePath = filepath.Clean(archivePath)
		if dir := filepath.Dir(archivePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatalf("create archive directory: %v", err)
			}
		}
		arch, err := sqlitestore.Open(archivePath)
		if err != nil {
			log.Fatalf("open archive: %v", err)
		}
		defer func() {
			_ = arch.Close()
		}()
		if err := arch.Migrate(ctx); err != nil {
			log.Fatalf("migrate archive: %v", err)
		}
		sink = arch
		log.Printf("archiving session %s to %s", arch.Session(), archivePath)
	}

	hub := mailbox.New(cfg.Coordinator.MailboxCapacity)
	svc := coordinator.New(hub, sink, coordinator.Config{
		HistoryQueryLimit: cfg.Coordinator.HistoryQueryLimit,
	}, log.Default())

	sim := simulate.New(simulate.Config{
		MinStepDelay: durationMS(cfg.Simulate.MinStepDelayMS, 500*time.Millisecond),
		MaxStepDelay: durationMS(cfg.Simulate.MaxStepDelayMS, 1500*time.Millisecond),
	})
	planner := agent.NewPlanner(hub, svc, svc, classify.New(), log.Default())
	executor := agent.NewExecutor(hub, svc, svc, sim, "", log.Default())
	svc.Register(planner)
	svc.Register(executor)

	if err := planner.Start(ctx); err != nil {
		log.Fatalf("start planner: %v", err)
	}
	if err := executor.Start(ctx); err != nil {
		log.Fatalf("start executor: %v", err)
	}
	defer func() {
		executor.Stop()
		planner.Stop()
	}()

	log.Printf("agent_relay started capacity=%d archive=%s", cfg.Coordinator.MailboxCapacity, orDash(archivePath))

	switch {
	case *scenarioFlag != "":
		sc, ok := demo.Find(*scenarioFlag)
		if !ok {
			log.Fatalf("unknown scenario %q (have: %s)", *scenarioFlag, scenarioNames())
		}
		if _, err := demo.Run(ctx, svc, sc, log.Default()); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("scenario failed: %v", err)
		}
		printTasks(svc)
	case *demoFlag:
		if err := demo.RunAll(ctx, svc, log.Default()); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("demo failed: %v", err)
		}
		printTasks(svc)
	default:
		repl(ctx, svc)
	}
}

func repl(ctx context.Context, svc *coordinator.Service) {
	fmt.Println("agent relay ready. Type a task description, or help for commands.")
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !dispatch(ctx, svc, line) {
				return
			}
		}
	}
}

func dispatch(ctx context.Context, svc *coordinator.Service, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	switch strings.ToLower(fields[0]) {
	case "quit", "exit", "q":
		return false
	case "help", "h":
		printHelp()
	case "status", "s":
		if len(fields) > 1 {
			printTask(svc, fields[1])
		} else {
			printStatus(svc)
		}
	case "history":
		limit := 0
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
				limit = n
			}
		}
		printHistory(svc, limit)
	case "agents":
		printAgents(svc)
	case "demo":
		runDemo(ctx, svc, fields)
	default:
		id, err := svc.SubmitTask(ctx, line)
		if err != nil {
			fmt.Printf("submit failed: %v\n", err)
			return true
		}
		fmt.Printf("submitted %s\n", id)
	}
	return true
}

func runDemo(ctx context.Context, svc *coordinator.Service, fields []string) {
	if len(fields) > 1 {
		sc, ok := demo.Find(fields[1])
		if !ok {
			fmt.Printf("unknown scenario %q (have: %s)\n", fields[1], scenarioNames())
			return
		}
		if _, err := demo.Run(ctx, svc, sc, log.Default()); err != nil {
			fmt.Printf("demo failed: %v\n", err)
		}
		return
	}
	if err := demo.RunAll(ctx, svc, log.Default()); err != nil {
		fmt.Printf("demo failed: %v\n", err)
	}
}

func printStatus(svc *coordinator.Service) {
	fmt.Println("agents:")
	printAgents(svc)
	fmt.Println("tasks:")
	printTasks(svc)
	total := svc.HistoryLen()
	fmt.Printf("messages: %d\n", total)
	if total > 0 {
		printHistory(svc, 3)
	}
}

func printAgents(svc *coordinator.Service) {
	states := svc.AgentStates()
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-10s %s\n", name, states[name])
	}
}

func printTasks(svc *coordinator.Service) {
	tasks := svc.ListTasks()
	if len(tasks) == 0 {
		fmt.Println("no tasks yet")
		return
	}
	for _, rec := range tasks {
		fmt.Printf("  %-20s %-10s %s\n", rec.TaskID, rec.Status, trim(rec.Description, 48))
	}
}

func printTask(svc *coordinator.Service, taskID string) {
	rec, err := svc.Task(taskID)
	if err != nil {
		fmt.Printf("status failed: %v\n", err)
		return
	}
	fmt.Printf("  %s: %s\n", rec.TaskID, rec.Status)
	fmt.Printf("  description: %s\n", rec.Description)
	if rec.Plan != nil {
		fmt.Printf("  plan: %s, %d subtasks, est %s\n", rec.Plan.Type, len(rec.Plan.Subtasks), rec.Plan.EstimatedDuration)
	}
	for _, res := range rec.Results {
		fmt.Printf("    %-24s %-8s %s\n", res.Name, res.Status, res.Duration.Round(time.Millisecond))
	}
	if rec.Summary != "" {
		fmt.Printf("  summary: %s\n", rec.Summary)
	}
}

func printHistory(svc *coordinator.Service, limit int) {
	entries := svc.History(limit)
	if len(entries) == 0 {
		fmt.Println("no messages yet")
		return
	}
	for _, e := range entries {
		line := fmt.Sprintf("  #%-3d %s -> %s %s", e.Seq, e.Message.Sender, e.Message.Recipient, e.Message.Kind)
		if e.Undeliverable {
			line += " (undeliverable)"
		}
		fmt.Println(line)
	}
}

func printHelp() {
	fmt.Println(`commands:
  <description>   submit a task
  status, s       system overview (status <id> for task details)
  history [n]     show recent messages (default from config)
  agents          show registered agents
  demo [name]     run demo scenarios (data, calc, text, web)
  quit, exit, q   leave`)
}

func scenarioNames() string {
	names := make([]string, 0, len(demo.Scenarios))
	for _, sc := range demo.Scenarios {
		names = append(names, sc.Name)
	}
	return strings.Join(names, ", ")
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

func trim(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
