// Package task defines the data model shared by every stage of the
// orchestration pipeline: the Task produced by the Analyzer, the
// TaskResult produced by a Task Solver, and their JSON wire shapes.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal or pending state of a TaskResult.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusSuccess    Status = "success"
	StatusSkipped    Status = "skipped"
	StatusFailure    Status = "failure"
)

// Terminal reports whether the status represents a finished task.
func (s Status) Terminal() bool {
	return s != StatusNotStarted
}

// Task is an atomic instruction for a coding agent, as produced by the
// Analyzer.
type Task struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Priority       int      `json:"priority"`
	FollowingTasks []string `json:"followingTasks,omitempty"`

	// CreatedAt is stamped by the Analyzer; not part of the agent's
	// report schema, used only for log ordering.
	CreatedAt time.Time `json:"createdAt"`
}

// GenerateID produces a short, unique task id for tasks the agent
// omitted an id for. Analyzer validation never deduplicates ids it was
// given; this is only used to fill in missing ones.
func GenerateID() string {
	return fmt.Sprintf("task-%s", uuid.New().String()[:8])
}

// TaskResult is the outcome of solving one Task. It embeds the
// originating Task so a result can be serialized standalone in the run
// report.
type TaskResult struct {
	Task

	Status      Status    `json:"status"`
	Report      string    `json:"report"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	Patch       string    `json:"patch,omitempty"`

	// Cancelled marks a failure caused by orchestrator-level
	// cancellation rather than an agent or environment error.
	Cancelled bool `json:"cancelled,omitempty"`
}

// NotStarted builds the initial TaskResult the Scheduler creates before
// handing a Task to a Solver.
func NotStarted(t Task) *TaskResult {
	return &TaskResult{Task: t, Status: StatusNotStarted}
}

// MarkTerminal transitions the result to a terminal status, stamping
// CompletedAt. Calling it twice is a programmer error but is not
// guarded against here — the owning Solver is the sole writer.
func (r *TaskResult) MarkTerminal(status Status, report string) {
	r.Status = status
	r.Report = report
	r.CompletedAt = time.Now()
}

// AgentReport is the JSON object schema a solver-role agent writes to
// /app/finalReport.json.
type AgentReport struct {
	TaskID      string `json:"taskId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"` // success | skipped | failed
	Report      string `json:"report"`
}

// AgentTaskDescriptor is one entry of the JSON array an analyzer-role
// agent writes to /app/tasks.json.
type AgentTaskDescriptor struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Priority       int      `json:"priority"`
	FollowingTasks []string `json:"followingTasks,omitempty"`
}
