// Package orchestrator implements the Workflow state machine of
// spec.md §4.9: pending -> running -> (paused <-> running) ->
// completed | failed | cancelled, per-operation-class admission via
// counting semaphores, checkpointing, and integer-only progress.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/tbcv/engine/internal/config"
	"github.com/tbcv/engine/pkg/logger"
	"github.com/tbcv/engine/pkg/store"
	"github.com/tbcv/engine/pkg/tbcverr"
)

var log = logger.New("orchestrator")

// State is one of the Workflow state machine's named states.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// OperationClass names one of the per-agent counting semaphores of
// spec.md §4.9/§5.
type OperationClass string

const (
	ClassSemanticLLM     OperationClass = "semantic_llm"
	ClassContentValidate OperationClass = "content_validator"
	ClassFuzzy           OperationClass = "fuzzy"
	ClassTruthIndex      OperationClass = "truth_index"
	// ClassNone marks a step that needs no per-class admission, only the
	// workflow-level concurrency cap.
	ClassNone OperationClass = ""
)

// Step is one unit of a workflow's work. Run must itself honor ctx
// cancellation; it returns a checkpoint blob to persist on success, or
// nil if the step has nothing worth resuming from.
type Step struct {
	Class OperationClass
	Run   func(ctx context.Context) ([]byte, error)
}

// ProgressEvent is broadcast to Subscribe callers after every step_done
// transition and every pause/resume/cancel.
type ProgressEvent struct {
	WorkflowID  string
	State       State
	CurrentStep int
	TotalSteps  int
	Percent     int
	Err         error
}

// DefaultRetryBudget is how many times a failed step is retried with
// backoff before the workflow transitions to failed, per spec.md §4.9.
const DefaultRetryBudget = 2

// Orchestrator runs Workflows, admitting their steps through
// per-operation-class counting semaphores and a bounded global
// concurrency cap, per spec.md §5.
type Orchestrator struct {
	st          store.Store
	sems        map[OperationClass]*semaphore.Weighted
	workflowSem *semaphore.Weighted
	retryBudget int

	mu     sync.Mutex
	active map[string]*handle
}

// New builds an Orchestrator sized by cfg.
func New(st store.Store, cfg config.Concurrency) *Orchestrator {
	maxWorkflows := cfg.MaxWorkflows
	if maxWorkflows <= 0 {
		maxWorkflows = 16
	}
	return &Orchestrator{
		st: st,
		sems: map[OperationClass]*semaphore.Weighted{
			ClassSemanticLLM:     semaphore.NewWeighted(int64(positiveOr(cfg.SemanticLLM, 1))),
			ClassContentValidate: semaphore.NewWeighted(int64(positiveOr(cfg.ContentValidate, 2))),
			ClassFuzzy:           semaphore.NewWeighted(int64(positiveOr(cfg.Fuzzy, 2))),
			ClassTruthIndex:      semaphore.NewWeighted(int64(positiveOr(cfg.TruthIndex, 4))),
		},
		workflowSem: semaphore.NewWeighted(int64(maxWorkflows)),
		retryBudget: DefaultRetryBudget,
		active:      make(map[string]*handle),
	}
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// handle is the in-memory control surface for one active workflow: its
// current state, a cancel func for its run goroutine, a pause gate steps
// wait on, and progress subscribers.
type handle struct {
	mu       sync.Mutex
	state    State
	resumeCh chan struct{}
	cancel   context.CancelFunc
	subs     []chan ProgressEvent
}

func newHandle() *handle {
	h := &handle{state: StateRunning}
	h.resumeCh = make(chan struct{})
	close(h.resumeCh) // closed = not paused, steps proceed immediately
	return h
}

func (h *handle) broadcast(ev ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Create persists a new Workflow in state pending, per the `create`
// transition (∅ -> pending).
func (o *Orchestrator) Create(ctx context.Context, wfType string, params map[string]any, totalSteps int) (*store.Workflow, error) {
	wf := &store.Workflow{
		Type:        wfType,
		State:       string(StatePending),
		InputParams: params,
		TotalSteps:  totalSteps,
	}
	if err := o.st.PutWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("orchestrator: creating workflow: %w", err)
	}
	return wf, nil
}

// Start transitions pending -> running and executes steps in a background
// goroutine, acquiring the global workflow semaphore on first use (the
// `start` transition of spec.md §4.9). It returns once the workflow has
// begun running; completion is observed via Status or Subscribe.
func (o *Orchestrator) Start(ctx context.Context, workflowID string, steps []Step) error {
	wf, err := o.st.GetWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("orchestrator: loading workflow %s: %w", workflowID, err)
	}
	if wf.State != string(StatePending) {
		return tbcverr.Newf(tbcverr.Conflict, "workflow %s is %s, not pending", workflowID, wf.State)
	}

	if err := o.workflowSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("orchestrator: acquiring workflow slot: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := newHandle()
	h.cancel = cancel

	o.mu.Lock()
	o.active[workflowID] = h
	o.mu.Unlock()

	wf.State = string(StateRunning)
	if err := o.st.PutWorkflow(ctx, wf); err != nil {
		o.workflowSem.Release(1)
		cancel()
		return fmt.Errorf("orchestrator: marking workflow %s running: %w", workflowID, err)
	}

	go o.run(runCtx, wf, h, steps)
	return nil
}

// run executes steps sequentially, admitting each through its class
// semaphore, checkpointing after every success, and broadcasting integer
// progress. It owns the workflow's terminal-state transition.
func (o *Orchestrator) run(ctx context.Context, wf *store.Workflow, h *handle, steps []Step) {
	defer o.workflowSem.Release(1)
	defer func() {
		o.mu.Lock()
		delete(o.active, wf.ID)
		o.mu.Unlock()
	}()

	for i, step := range steps {
		if err := o.awaitRunnable(ctx, h); err != nil {
			o.finish(ctx, wf, h, StateCancelled, err)
			return
		}

		sem := o.sems[step.Class]
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				o.finish(ctx, wf, h, StateCancelled, err)
				return
			}
		}

		var blob []byte
		var err error
		for attempt := 0; attempt <= o.retryBudget; attempt++ {
			blob, err = step.Run(ctx)
			if err == nil || ctx.Err() != nil {
				break
			}
			log.Printf("workflow %s step %d attempt %d failed: %v", wf.ID, i, attempt, err)
		}
		if sem != nil {
			sem.Release(1)
		}

		if ctx.Err() != nil {
			o.finish(ctx, wf, h, StateCancelled, ctx.Err())
			return
		}
		if err != nil {
			o.finish(ctx, wf, h, StateFailed, err)
			return
		}

		if blob != nil {
			if _, err := o.st.AppendCheckpoint(ctx, wf.ID, blob); err != nil {
				log.Printf("workflow %s: checkpoint append failed: %v", wf.ID, err)
			}
		}

		wf.CurrentStep = i + 1
		wf.ProgressPercent = percent(wf.CurrentStep, wf.TotalSteps)
		if err := o.st.PutWorkflow(ctx, wf); err != nil {
			log.Printf("workflow %s: progress persist failed: %v", wf.ID, err)
		}
		h.broadcast(ProgressEvent{WorkflowID: wf.ID, State: StateRunning, CurrentStep: wf.CurrentStep, TotalSteps: wf.TotalSteps, Percent: wf.ProgressPercent})
	}

	o.finish(ctx, wf, h, StateCompleted, nil)
}

// awaitRunnable blocks while the workflow is paused, returning ctx.Err()
// if cancelled while waiting.
func (o *Orchestrator) awaitRunnable(ctx context.Context, h *handle) error {
	for {
		h.mu.Lock()
		state := h.state
		ch := h.resumeCh
		h.mu.Unlock()

		if state == StateCancelled {
			return context.Canceled
		}
		if state != StatePaused {
			return nil
		}
		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context, wf *store.Workflow, h *handle, state State, cause error) {
	wf.State = string(state)
	if cause != nil {
		msg := cause.Error()
		wf.ErrorMessage = &msg
	}
	if state == StateCompleted {
		wf.ProgressPercent = 100
	}
	if err := o.st.PutWorkflow(ctx, wf); err != nil {
		log.Printf("workflow %s: terminal persist failed: %v", wf.ID, err)
	}

	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
	h.broadcast(ProgressEvent{WorkflowID: wf.ID, State: state, CurrentStep: wf.CurrentStep, TotalSteps: wf.TotalSteps, Percent: wf.ProgressPercent, Err: cause})
}

func percent(current, total int) int {
	if total <= 0 {
		return 0
	}
	p := 100 * current / total
	if p > 100 {
		p = 100
	}
	return p
}

// Pause implements the cooperative `pause` transition: in-flight steps
// finish, the next step blocks until Resume.
func (o *Orchestrator) Pause(ctx context.Context, workflowID string) error {
	h, err := o.handleFor(workflowID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateRunning {
		return tbcverr.Newf(tbcverr.Conflict, "workflow %s is %s, not running", workflowID, h.state)
	}
	h.state = StatePaused
	h.resumeCh = make(chan struct{})
	return o.setState(ctx, workflowID, StatePaused)
}

// Resume implements `resume`: paused -> running.
func (o *Orchestrator) Resume(ctx context.Context, workflowID string) error {
	h, err := o.handleFor(workflowID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	if h.state != StatePaused {
		h.mu.Unlock()
		return tbcverr.Newf(tbcverr.Conflict, "workflow %s is %s, not paused", workflowID, h.state)
	}
	h.state = StateRunning
	close(h.resumeCh)
	h.mu.Unlock()
	return o.setState(ctx, workflowID, StateRunning)
}

// Cancel implements `cancel`: any non-terminal state -> cancelled,
// releasing the workflow-level semaphore via run()'s deferred release and
// short-circuiting future steps with Cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID string) error {
	h, err := o.handleFor(workflowID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	wasPaused := h.state == StatePaused
	h.state = StateCancelled
	if h.cancel != nil {
		h.cancel()
	}
	if wasPaused {
		close(h.resumeCh)
	}
	h.mu.Unlock()
	return o.setState(ctx, workflowID, StateCancelled)
}

// setState updates a workflow's state while preserving its current
// progress_percent, since UpdateWorkflowState sets both columns together.
func (o *Orchestrator) setState(ctx context.Context, workflowID string, state State) error {
	wf, err := o.st.GetWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("orchestrator: loading workflow %s: %w", workflowID, err)
	}
	return o.st.UpdateWorkflowState(ctx, workflowID, string(state), wf.ProgressPercent)
}

func (o *Orchestrator) handleFor(workflowID string) (*handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.active[workflowID]
	if !ok {
		return nil, tbcverr.Newf(tbcverr.NotFound, "no active workflow %s", workflowID)
	}
	return h, nil
}

// Status returns the persisted Workflow record.
func (o *Orchestrator) Status(ctx context.Context, workflowID string) (*store.Workflow, error) {
	return o.st.GetWorkflow(ctx, workflowID)
}

// Subscribe registers a progress channel for workflowID. The returned
// unsubscribe func must be called to release it. Events are dropped,
// never blocked on, if the subscriber falls behind.
func (o *Orchestrator) Subscribe(workflowID string) (<-chan ProgressEvent, func(), error) {
	h, err := o.handleFor(workflowID)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan ProgressEvent, 16)
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, sub := range h.subs {
			if sub == ch {
				h.subs = append(h.subs[:i], h.subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsubscribe, nil
}

// LastCheckpoint returns the most recent checkpoint blob for workflowID,
// or nil if none exists, so a resumed enhance_batch can skip completed
// work.
func (o *Orchestrator) LastCheckpoint(ctx context.Context, workflowID string) ([]byte, error) {
	cp, err := o.st.LatestCheckpoint(ctx, workflowID)
	if err != nil {
		// No checkpoint yet is not a failure.
		return nil, nil
	}
	return cp.Blob, nil
}
