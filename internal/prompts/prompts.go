// Package prompts holds the sub-task catalogue sent to the actor.
package prompts

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"storyline/internal/actor"
)

// Sub-task names.
const (
	TaskAnalysis           = "analysis"
	TaskPhaseEvaluation    = "phase_evaluation"
	TaskBriefCreation      = "brief_creation"
	TaskBriefReview        = "brief_review"
	TaskSolutionFlows      = "solution_flows"
	TaskSolutionValidation = "solution_validation"
	TaskSolutionEvaluation = "solution_evaluation"
	TaskBacklogCreation    = "backlog_creation"
	TaskBacklogValidation  = "backlog_validation"
)

//go:embed tasks.yaml
var defaultTasks []byte

type Task struct {
	Role           string `yaml:"role"`
	Description    string `yaml:"description"`
	ExpectedOutput string `yaml:"expected_output"`
	Schema         string `yaml:"schema"`
}

type Catalogue struct {
	tasks map[string]Task
}

// Default returns the embedded catalogue.
func Default() *Catalogue {
	c, err := Parse(defaultTasks)
	if err != nil {
		panic(fmt.Sprintf("embedded tasks.yaml: %v", err))
	}
	return c
}

func Parse(data []byte) (*Catalogue, error) {
	var tasks map[string]Task
	if err := yaml.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parse task catalogue: %w", err)
	}
	for name, t := range tasks {
		if strings.TrimSpace(t.Description) == "" {
			return nil, fmt.Errorf("task %s has no description", name)
		}
	}
	return &Catalogue{tasks: tasks}, nil
}

func (c *Catalogue) Names() []string {
	names := make([]string, 0, len(c.tasks))
	for n := range c.tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Request builds the actor request for task. Placeholders stay in the
// instructions; the actor binding fills them from inputs.
func (c *Catalogue) Request(task string, inputs map[string]any) (actor.Request, error) {
	t, ok := c.tasks[task]
	if !ok {
		return actor.Request{}, fmt.Errorf("unknown task %q", task)
	}
	var b strings.Builder
	if t.Role != "" {
		fmt.Fprintf(&b, "Role: %s\n\n", t.Role)
	}
	b.WriteString(strings.TrimSpace(t.Description))
	if out := strings.TrimSpace(t.ExpectedOutput); out != "" {
		b.WriteString("\n\nExpected output:\n")
		b.WriteString(out)
	}
	return actor.Request{
		Task:         task,
		Instructions: b.String(),
		Inputs:       inputs,
		Schema:       t.Schema,
	}, nil
}
