// Package orchestrator decomposes tasks into role-node dependency graphs,
// drives their execution under budget and cache discipline, and aggregates
// verdicts into per-task results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rgoodall/quartermaster/internal/cache"
	"github.com/rgoodall/quartermaster/internal/graph"
	"github.com/rgoodall/quartermaster/internal/ledger"
	"github.com/rgoodall/quartermaster/internal/metrics"
	"github.com/rgoodall/quartermaster/internal/planner"
	"github.com/rgoodall/quartermaster/internal/qc"
	"github.com/rgoodall/quartermaster/internal/runner"
	"github.com/rgoodall/quartermaster/pkg/models"
)

// DefaultParallelism bounds concurrent node executions.
const DefaultParallelism = 4

// Orchestrator is the coordinating engine. A single orchestrator drives each
// run; workers execute nodes concurrently and report back over a channel,
// never touching shared node state directly.
type Orchestrator struct {
	planner    *planner.Planner
	ledger     *ledger.Ledger
	cache      *cache.Cache
	gate       *qc.Gate
	runner     runner.Runner
	freeRunner runner.Runner
	retry      qc.RetryPolicy
	metrics    *metrics.Collector
	control    *Controller

	provider        string
	model           string
	temperature     float64
	parallelism     int64
	cacheTTL        time.Duration
	estCostPerToken float64
	maxResultBytes  int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFreeRunner sets the runner used when a budget forbids paid execution.
// Without one, such nodes still use the primary runner.
func WithFreeRunner(r runner.Runner) Option {
	return func(o *Orchestrator) { o.freeRunner = r }
}

// WithRetryPolicy overrides the retry adjustment hook.
func WithRetryPolicy(p qc.RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithController attaches a control-file watcher for cancel/pause.
func WithController(c *Controller) Option {
	return func(o *Orchestrator) { o.control = c }
}

// WithParallelism bounds concurrent node executions.
func WithParallelism(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.parallelism = int64(n)
		}
	}
}

// WithProvider sets the ledger provider key and model identity for runs.
func WithProvider(provider, model string) Option {
	return func(o *Orchestrator) {
		o.provider = provider
		o.model = model
	}
}

// WithTemperature sets the sampling temperature for runner payloads. Zero
// keeps requests deterministic and eligible for near-duplicate cache reuse.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// WithCacheTTL sets the retention for entries this orchestrator stores.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.cacheTTL = ttl }
}

// WithEstimatedCostPerToken sets the cost estimate used when reserving
// ledger budget ahead of a call.
func WithEstimatedCostPerToken(c float64) Option {
	return func(o *Orchestrator) { o.estCostPerToken = c }
}

// WithMaxResultBytes caps result sizes at the quality gate.
func WithMaxResultBytes(n int) Option {
	return func(o *Orchestrator) { o.maxResultBytes = n }
}

// New creates an orchestrator over its collaborators.
func New(p *planner.Planner, lg *ledger.Ledger, c *cache.Cache, gate *qc.Gate, run runner.Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:         p,
		ledger:          lg,
		cache:           c,
		gate:            gate,
		runner:          run,
		retry:           qc.DefaultRetryPolicy,
		provider:        "anthropic",
		model:           "claude-sonnet-4-20250514",
		parallelism:     DefaultParallelism,
		estCostPerToken: 0.000009,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run is one accepted submission: a validated, decomposed, acyclic graph
// ready to execute.
type Run struct {
	o       *Orchestrator
	tasks   []models.Task
	budgets map[string]models.ResourceBudget
	graph   *graph.Graph
}

// Graph exposes the node graph, for inspection and tests.
func (r *Run) Graph() *graph.Graph { return r.graph }

// Budget returns the planned budget for a task.
func (r *Run) Budget(taskID string) models.ResourceBudget { return r.budgets[taskID] }

// Submit validates tasks and decomposes them into a node graph. Unknown
// dependency references and cycles are rejected here, before any node
// executes or any resource is consumed.
func (o *Orchestrator) Submit(tasks []models.Task) (*Run, error) {
	if len(tasks) == 0 {
		return nil, structuralErr("", "no tasks submitted")
	}

	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return nil, structuralErr("", "task with empty id")
		}
		if known[t.ID] {
			return nil, structuralErr(t.ID, "duplicate task id")
		}
		known[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !known[dep] {
				return nil, structuralErr(t.ID, "depends on unknown task %s", dep)
			}
		}
	}

	snap := o.ledger.Snapshot()
	budgets := make(map[string]models.ResourceBudget, len(tasks))
	for _, t := range tasks {
		b := o.planner.Plan(t, snap)
		budgets[t.ID] = b
		o.metrics.RecordTaskCreated()
		log.Printf("[orchestrator] planned task=%s tier=%s score=%.3f tokens=%d calls=%d paid=%v",
			t.ID, b.Tier, b.Score, b.MaxTokens, b.MaxCalls, b.PaidAllowed)
	}

	g, err := graph.Build(decompose(tasks, budgets))
	if err != nil {
		if errors.Is(err, graph.ErrCycleDetected) {
			return nil, structuralErr("", "dependency cycle detected")
		}
		return nil, structuralErr("", "%v", err)
	}

	log.Printf("[orchestrator] accepted %d tasks as %d nodes", len(tasks), g.Size())
	return &Run{o: o, tasks: tasks, budgets: budgets, graph: g}, nil
}

// TaskReport is the terminal state of one task after a run.
type TaskReport struct {
	// TaskID identifies the task.
	TaskID string `json:"task_id"`
	// Status is approved or failed.
	Status models.TaskStatus `json:"status"`
	// Result is the final node's output when approved.
	Result string `json:"result,omitempty"`
	// Reason reconstructs which node failed, why, and after how many
	// attempts, plus what was cancelled downstream.
	Reason string `json:"reason,omitempty"`
	// Budget is the budget the task was planned under.
	Budget models.ResourceBudget `json:"budget"`
}

// Report is the aggregate outcome of a run.
type Report struct {
	// Tasks holds per-task reports in submission order.
	Tasks []TaskReport `json:"tasks"`
	// AllApproved reports whether every task reached approved.
	AllApproved bool `json:"all_approved"`
}

// nodeResult is what a worker sends back to the coordinator.
type nodeResult struct {
	nodeID string
	output string
	cached bool
	err    error
}

// Execute drives the run to completion: ready nodes are dispatched up to the
// parallelism limit, results flow back over a channel, and the coordinator
// alone mutates node state.
func (r *Run) Execute(ctx context.Context) (*Report, error) {
	sem := semaphore.NewWeighted(r.o.parallelism)
	results := make(chan nodeResult)
	inFlight := 0
	aborted := false

	abort := func(reason string) {
		if aborted {
			return
		}
		aborted = true
		log.Printf("[orchestrator] aborting run: %s", reason)
		for _, node := range r.graph.Nodes() {
			if node.Status == models.NodePending || node.Status == models.NodeReady {
				r.graph.SetStatus(node.ID, models.NodeCancelled)
				r.setNodeError(node.ID, reason)
				r.o.metrics.RecordNodeCancelled()
			}
		}
	}

	runCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	for {
		if !aborted {
			if ctx.Err() != nil {
				abort("run cancelled: context done")
				cancelWorkers()
			} else if r.o.control != nil && r.o.control.Cancelled() {
				abort("run cancelled: control signal")
				cancelWorkers()
			}
		}

		paused := !aborted && r.o.control != nil && r.o.control.Paused()
		if !aborted && !paused {
			for _, node := range r.graph.Ready() {
				if !sem.TryAcquire(1) {
					break
				}
				r.dispatch(runCtx, node, results)
				inFlight++
			}
		}

		if inFlight == 0 {
			if aborted {
				break
			}
			if len(r.graph.Ready()) == 0 && !paused {
				break
			}
		}

		select {
		case res := <-results:
			inFlight--
			sem.Release(1)
			r.handle(res)
		case <-time.After(50 * time.Millisecond):
		}
	}

	if aborted {
		// Anything a drained worker put back to pending stays cancelled.
		for _, node := range r.graph.Nodes() {
			if !node.Status.Terminal() {
				r.graph.SetStatus(node.ID, models.NodeCancelled)
				r.setNodeError(node.ID, "run cancelled")
				r.o.metrics.RecordNodeCancelled()
			}
		}
	}

	return r.report(), nil
}

// dispatch marks a node running and starts its worker. The worker gets a
// copy of everything it needs; it never reads the node afterward.
func (r *Run) dispatch(ctx context.Context, node *models.SubtaskNode, results chan<- nodeResult) {
	node.Attempt++
	if node.Attempt == 1 {
		node.StartedAt = time.Now()
	}
	assignment := node.Assignment
	payload := runner.Payload{
		NodeID:      node.ID,
		Attempt:     node.Attempt,
		Role:        assignment.Role,
		Capability:  assignment.Capability,
		Prompt:      node.Description,
		Temperature: r.o.temperature,
	}
	r.graph.SetStatus(node.ID, models.NodeRunning)
	log.Printf("[orchestrator] dispatch node=%s role=%s attempt=%d", node.ID, assignment.Role, node.Attempt)

	go func() {
		output, cached, err := r.execNode(ctx, payload, assignment.Budget)
		results <- nodeResult{nodeID: payload.NodeID, output: output, cached: cached, err: err}
	}()
}

// execNode runs one node attempt: cache first, then ledger reservation, then
// the runner under the budget's wall-clock ceiling, then cache write-back.
// Concurrent identical requests collapse to one runner invocation.
func (r *Run) execNode(ctx context.Context, payload runner.Payload, budget models.ResourceBudget) (string, bool, error) {
	req := cache.Request{Text: payload.Prompt, Model: r.o.model, Temperature: payload.Temperature}

	fill := func() (cache.Fill, error) {
		estCost := float64(budget.MaxTokens) * r.o.estCostPerToken
		if err := r.o.ledger.TryConsume(r.o.provider, budget.MaxTokens, estCost); err != nil {
			return cache.Fill{}, err
		}

		execCtx := ctx
		if budget.MaxDuration > 0 {
			var cancel context.CancelFunc
			execCtx, cancel = context.WithTimeout(ctx, budget.MaxDuration)
			defer cancel()
		}

		run := r.o.runner
		if !budget.PaidAllowed && r.o.freeRunner != nil {
			run = r.o.freeRunner
		}
		res, err := run.Execute(execCtx, payload, budget)
		if err != nil {
			// The reservation stands: attempted consumption counts.
			return cache.Fill{}, err
		}
		r.o.metrics.RecordNodeExecuted()

		// Charge any overrun beyond the reservation; never refund.
		if over := res.TokensUsed - budget.MaxTokens; over > 0 {
			overCost := res.CostUSD - estCost
			if overCost < 0 {
				overCost = 0
			}
			r.o.ledger.RecordDelta(r.o.provider, over, overCost)
		}

		return cache.Fill{Result: res.Output, Tokens: res.TokensUsed, CostUSD: res.CostUSD}, nil
	}

	if budget.CachePolicy == models.CacheNone {
		f, err := fill()
		if err != nil {
			return "", false, err
		}
		return f.Result, false, nil
	}

	entry, hit, err := r.o.cache.Do(req, budget.CachePolicy.AllowsNearMatch(), r.o.cacheTTL, fill)
	if err != nil {
		return "", false, err
	}
	if hit {
		log.Printf("[orchestrator] cache hit node=%s saved_tokens=%d", payload.NodeID, entry.Tokens)
	}
	return entry.Result, hit, nil
}

// handle applies one worker result to the graph: quality review on success,
// retry or permanent failure otherwise.
func (r *Run) handle(res nodeResult) {
	node := r.graph.Node(res.nodeID)
	if node == nil {
		return
	}

	if res.err != nil {
		r.handleFailure(node, res.err)
		return
	}

	r.graph.SetStatus(node.ID, models.NodeAwaitingQC)
	verdict := r.o.gate.Review(qc.Submission{
		NodeID:         node.ID,
		Attempt:        node.Attempt,
		Result:         res.output,
		OutputType:     qc.OutputText,
		MaxResultBytes: r.o.maxResultBytes,
	})
	r.o.metrics.RecordQCVerdict(verdict.Approved)

	switch {
	case verdict.Approved:
		node.Result = res.output
		node.CompletedAt = time.Now()
		r.graph.SetStatus(node.ID, models.NodeApproved)
		log.Printf("[orchestrator] approved node=%s attempt=%d cached=%v", node.ID, node.Attempt, res.cached)
	case verdict.RetryAllowed:
		node.Assignment = r.o.retry(node.Assignment, verdict)
		r.graph.SetStatus(node.ID, models.NodePending)
		log.Printf("[orchestrator] rejected node=%s attempt=%d, retrying: %s", node.ID, node.Attempt, verdict.Reasons())
	default:
		r.failNode(node, fmt.Sprintf("quality gate rejection [%s]: %s", CodeQCRejection, verdict.Reasons()))
	}
}

// handleFailure classifies a runner-path error and retries or fails the node.
func (r *Run) handleFailure(node *models.SubtaskNode, err error) {
	var exceeded *ledger.ExceededError
	if errors.As(err, &exceeded) {
		// Limit reached: never silently downgraded, always recorded as the
		// failure reason.
		r.failNode(node, fmt.Sprintf("limit reached [%s]: %v", exceeded.Code(), err))
		return
	}

	var rerr *runner.Error
	retryable := errors.As(err, &rerr) && rerr.Retryable
	if retryable && node.Attempt < r.o.gate.MaxAttempts() {
		node.Assignment = r.o.retry(node.Assignment, qc.Verdict{RetryAllowed: true})
		r.graph.SetStatus(node.ID, models.NodePending)
		log.Printf("[orchestrator] runner failure node=%s attempt=%d, retrying: %v", node.ID, node.Attempt, err)
		return
	}
	r.failNode(node, fmt.Sprintf("runner failure: %v", err))
}

// failNode marks a node permanently failed and cancels everything downstream.
func (r *Run) failNode(node *models.SubtaskNode, cause string) {
	node.Error = fmt.Sprintf("%s (after %d attempts)", cause, node.Attempt)
	node.CompletedAt = time.Now()
	r.graph.SetStatus(node.ID, models.NodeFailed)

	cancelled := r.graph.CancelDependents(node.ID)
	for _, id := range cancelled {
		r.setNodeError(id, fmt.Sprintf("cancelled: upstream node %s failed", node.ID))
		r.o.metrics.RecordNodeCancelled()
	}
	log.Printf("[orchestrator] failed node=%s, cancelled %d dependents: %s", node.ID, len(cancelled), node.Error)
}

func (r *Run) setNodeError(nodeID, msg string) {
	if node := r.graph.Node(nodeID); node != nil && node.Error == "" {
		node.Error = msg
		node.CompletedAt = time.Now()
	}
}

// report derives per-task terminal states from the settled graph.
func (r *Run) report() *Report {
	byTask := make(map[string][]*models.SubtaskNode)
	for _, node := range r.graph.Nodes() {
		byTask[node.TaskID] = append(byTask[node.TaskID], node)
	}

	rep := &Report{AllApproved: true}
	for _, task := range r.tasks {
		tr := TaskReport{TaskID: task.ID, Status: models.TaskStatusApproved, Budget: r.budgets[task.ID]}
		finalID := finalNodeID(task, r.budgets[task.ID])

		for _, node := range byTask[task.ID] {
			if node.Status != models.NodeApproved {
				tr.Status = models.TaskStatusFailed
				if tr.Reason != "" {
					tr.Reason += "; "
				}
				tr.Reason += fmt.Sprintf("node %s %s: %s", node.ID, node.Status, node.Error)
			}
			if node.ID == finalID {
				tr.Result = node.Result
			}
		}

		if tr.Status == models.TaskStatusFailed {
			tr.Result = ""
			rep.AllApproved = false
		}
		r.o.metrics.RecordTaskOutcome(tr.Status == models.TaskStatusApproved)
		rep.Tasks = append(rep.Tasks, tr)
	}
	return rep
}
