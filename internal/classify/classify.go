package classify

import (
	"strings"
	"time"

	"agent_relay/internal/domain"
)

type rule struct {
	keywords []string
	taskType domain.TaskType
}

// Rules run in order; the first keyword hit wins.
var rules = []rule{
	{keywords: []string{"analyze", "data", "statistics"}, taskType: domain.TypeDataAnalysis},
	{keywords: []string{"scrape", "web", "extract"}, taskType: domain.TypeWebScraping},
	{keywords: []string{"calculate", "compute", "math"}, taskType: domain.TypeCalculation},
	{keywords: []string{"text", "process", "format"}, taskType: domain.TypeTextProcessing},
}

var templates = map[domain.TaskType][]string{
	domain.TypeDataAnalysis:   {"collect_data", "clean_data", "analyze_data", "generate_report"},
	domain.TypeWebScraping:    {"identify_sources", "extract_data", "validate_data", "store_results"},
	domain.TypeCalculation:    {"parse_input", "perform_calculation", "validate_result", "format_output"},
	domain.TypeTextProcessing: {"tokenize_text", "process_content", "apply_transformations", "generate_output"},
	domain.TypeGeneric:        {"understand_requirements", "gather_resources", "execute_main_task", "verify_results"},
}

type Engine struct{}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) Classify(description string) domain.TaskType {
	lowered := strings.ToLower(description)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lowered, kw) {
				return r.taskType
			}
		}
	}
	return domain.TypeGeneric
}

func (e *Engine) Plan(taskID, description string) domain.TaskPlan {
	taskType := e.Classify(description)
	names := templates[taskType]
	subtasks := make([]domain.SubtaskSpec, len(names))
	for i, name := range names {
		subtasks[i] = domain.SubtaskSpec{
			Name:     name,
			Position: i,
			Params:   map[string]string{"description": description},
		}
	}
	return domain.TaskPlan{
		TaskID:            taskID,
		Description:       description,
		Type:              taskType,
		Subtasks:          subtasks,
		EstimatedDuration: time.Duration(len(subtasks)) * 2 * time.Second,
	}
}
