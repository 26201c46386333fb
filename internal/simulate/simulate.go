package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"agent_relay/internal/domain"
)

type Config struct {
	MinStepDelay time.Duration
	MaxStepDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinStepDelay <= 0 {
		c.MinStepDelay = 500 * time.Millisecond
	}
	if c.MaxStepDelay <= 0 {
		c.MaxStepDelay = 1500 * time.Millisecond
	}
	if c.MaxStepDelay < c.MinStepDelay {
		c.MaxStepDelay = c.MinStepDelay
	}
	return c
}

type Runner struct {
	cfg Config
}

func New(cfg Config) *Runner {
	return &Runner{cfg: cfg.withDefaults()}
}

func (r *Runner) Run(ctx context.Context, sub domain.SubtaskSpec) (domain.SubtaskResult, error) {
	start := time.Now()
	timer := time.NewTimer(r.stepDelay())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return domain.SubtaskResult{}, fmt.Errorf("run %s: %w", sub.Name, ctx.Err())
	case <-timer.C:
	}
	return domain.SubtaskResult{
		Name:     sub.Name,
		Status:   domain.SubtaskSuccess,
		Output:   cannedOutput(sub.Name),
		Duration: time.Since(start),
	}, nil
}

func (r *Runner) stepDelay() time.Duration {
	span := r.cfg.MaxStepDelay - r.cfg.MinStepDelay
	if span <= 0 {
		return r.cfg.MinStepDelay
	}
	return r.cfg.MinStepDelay + time.Duration(rand.Int63n(int64(span)+1))
}

func cannedOutput(name string) json.RawMessage {
	lowered := strings.ToLower(name)
	switch {
	case strings.Contains(lowered, "data"):
		return mustJSON(map[string]any{"type": "data_operation", "records_processed": 100})
	case strings.Contains(lowered, "calculate"):
		return mustJSON(map[string]any{"type": "calculation", "result": 42})
	case strings.Contains(lowered, "report"):
		return mustJSON(map[string]any{"type": "report", "pages_generated": 5})
	default:
		return mustJSON(map[string]any{"type": "generic", "operation": name})
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
