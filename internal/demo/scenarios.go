package demo

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"agent_relay/internal/domain"
)

type Submitter interface {
	SubmitTask(ctx context.Context, description string) (string, error)
	TaskStatus(taskID string) (domain.TaskStatus, error)
}

type Scenario struct {
	Name        string
	Aliases     []string
	Description string
}

var Scenarios = []Scenario{
	{
		Name:        "data_analysis",
		Aliases:     []string{"data", "analysis"},
		Description: "Analyze sales data from Q3 2024 and generate insights report",
	},
	{
		Name:        "calculation",
		Aliases:     []string{"calc"},
		Description: "Calculate the compound interest for $1000 at 5% annually for 10 years",
	},
	{
		Name:        "text_processing",
		Aliases:     []string{"text", "processing"},
		Description: "Process and format the user manual text for better readability",
	},
	{
		Name:        "web_scraping",
		Aliases:     []string{"web", "scraping"},
		Description: "Scrape product information from e-commerce sites and create comparison report",
	},
}

func Find(name string) (Scenario, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, sc := range Scenarios {
		if sc.Name == needle {
			return sc, true
		}
		for _, alias := range sc.Aliases {
			if alias == needle {
				return sc, true
			}
		}
	}
	return Scenario{}, false
}

func Run(ctx context.Context, svc Submitter, sc Scenario, logger *log.Logger) (domain.TaskStatus, error) {
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("demo %s: %s", sc.Name, sc.Description)
	taskID, err := svc.SubmitTask(ctx, sc.Description)
	if err != nil {
		return domain.TaskFailed, fmt.Errorf("submit %s: %w", sc.Name, err)
	}
	status, err := waitFinal(ctx, svc, taskID)
	if err != nil {
		return status, err
	}
	logger.Printf("demo %s: task %s %s", sc.Name, taskID, status)
	return status, nil
}

func RunAll(ctx context.Context, svc Submitter, logger *log.Logger) error {
	for _, sc := range Scenarios {
		if _, err := Run(ctx, svc, sc, logger); err != nil {
			return err
		}
	}
	return nil
}

func waitFinal(ctx context.Context, svc Submitter, taskID string) (domain.TaskStatus, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, err := svc.TaskStatus(taskID)
		if err != nil {
			return "", fmt.Errorf("poll %s: %w", taskID, err)
		}
		if status.Final() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, fmt.Errorf("wait for %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}
