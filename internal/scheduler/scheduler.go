// Package scheduler owns the task queue and enforces the parallelism
// cap across Task Solvers. A task becomes eligible for dispatch once at
// least one of its declared predecessors reaches a terminal state.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentfarm/agentfarm/internal/task"
)

// SolveFunc runs one task to completion, returning its result. A
// non-nil error is folded into a failure TaskResult by the scheduler;
// it never aborts sibling tasks.
type SolveFunc func(ctx context.Context, t task.Task) (*task.TaskResult, error)

// Scheduler drains a queue of Tasks through Task Solvers, at most P at
// once, respecting the weak followingTasks ordering hint.
type Scheduler struct {
	parallelism int
	solve       SolveFunc
	log         zerolog.Logger
}

// New builds a Scheduler with the given parallelism cap P and solve
// function.
func New(parallelism int, solve SolveFunc, log zerolog.Logger) *Scheduler {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Scheduler{
		parallelism: parallelism,
		solve:       solve,
		log:         log.With().Str("component", "scheduler").Logger(),
	}
}

// Run drains tasks through solvers and returns one TaskResult per
// input task, in completion order. Run returns once every task has
// reached a terminal state; it never returns early on individual task
// failure. Cancelling ctx stops new dispatches but lets in-flight
// solvers finish (they observe ctx themselves and fail promptly).
func (s *Scheduler) Run(ctx context.Context, tasks []task.Task) []task.TaskResult {
	predecessorsOf := buildPredecessorIndex(tasks)

	pending := make([]task.Task, len(tasks))
	copy(pending, tasks)

	terminal := make(map[string]bool, len(tasks))
	completed := make([]task.TaskResult, 0, len(tasks))
	activeCount := 0

	var mu sync.Mutex
	cond := sync.NewCond(&mu)

	g, gctx := errgroup.WithContext(context.Background()) // group never cancels siblings; see failure isolation below
	g.SetLimit(s.parallelism)

	mu.Lock()
	for {
		for activeCount < s.parallelism && ctx.Err() == nil {
			idx := firstReadyIndex(pending, predecessorsOf, terminal)
			if idx < 0 {
				break
			}

			t := pending[idx]
			pending = append(pending[:idx], pending[idx+1:]...)
			activeCount++

			s.log.Debug().Str("task_id", t.ID).Msg("dispatching task")

			g.Go(func() error {
				result := s.runSolver(ctx, t)

				mu.Lock()
				activeCount--
				terminal[t.ID] = true
				completed = append(completed, *result)
				mu.Unlock()
				cond.Broadcast()

				return nil
			})
		}

		if len(pending) == 0 && activeCount == 0 {
			break
		}
		if ctx.Err() != nil && activeCount == 0 {
			// Cancelled with nothing left running: any remaining
			// pending tasks never got a chance to run and are recorded
			// as cancelled failures rather than silently dropped.
			for _, t := range pending {
				result := task.NotStarted(t)
				result.Cancelled = true
				result.MarkTerminal(task.StatusFailure, "cancelled before dispatch")
				completed = append(completed, *result)
			}
			pending = nil
			break
		}

		cond.Wait()
	}
	mu.Unlock()

	_ = g.Wait()
	_ = gctx

	return completed
}

// runSolver invokes solve for t, converting both returned errors and
// recovered panics into a failure TaskResult so a defect in one
// solver's path never escapes to affect its siblings.
func (s *Scheduler) runSolver(ctx context.Context, t task.Task) (result *task.TaskResult) {
	result = task.NotStarted(t)

	defer func() {
		if r := recover(); r != nil {
			result.MarkTerminal(task.StatusFailure, fmt.Sprintf("panic: %v", r))
		}
	}()

	res, err := s.solve(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			result.Cancelled = true
		}
		result.MarkTerminal(task.StatusFailure, err.Error())
		return result
	}
	return res
}

// buildPredecessorIndex inverts followingTasks (successor edges) into
// a predecessor lookup: predecessorsOf[x] lists every task id whose
// followingTasks names x.
func buildPredecessorIndex(tasks []task.Task) map[string][]string {
	index := make(map[string][]string)
	for _, t := range tasks {
		for _, successor := range t.FollowingTasks {
			index[successor] = append(index[successor], t.ID)
		}
	}
	return index
}

// firstReadyIndex returns the pending-slice index of the first task
// that is ready to dispatch: it has no predecessors, or at least one
// predecessor has already reached a terminal state.
func firstReadyIndex(pending []task.Task, predecessorsOf map[string][]string, terminal map[string]bool) int {
	for i, t := range pending {
		preds := predecessorsOf[t.ID]
		if len(preds) == 0 {
			return i
		}
		for _, p := range preds {
			if terminal[p] {
				return i
			}
		}
	}
	return -1
}
