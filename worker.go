package multipipes

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

// WorkerConfig parameterizes a Worker.
type WorkerConfig struct {
	// ID is the worker's identity. A zero UUID causes Start to mint one.
	ID uuid.UUID

	// NodeName labels events and goroutine labels with the owning Node's
	// name.
	NodeName string

	// Namespace is the owning Pipeline's process_namespace, used for
	// goroutine labeling.
	Namespace string

	// TaskFactory builds a fresh Task each time the Worker (re)starts, so
	// that per-worker state such as RequestsCount always begins at zero.
	// The owning Node supplies a closure capturing its current
	// generation and channels.
	TaskFactory func() (*Task, error)

	// Manager is the optional event sink this Worker reports lifecycle
	// events to. Nil is valid: the Worker simply runs unsupervised.
	Manager EventSink

	// Debug supplies escalation/labeling collaborators. Defaults to
	// NewDebugHooks(nil) when nil.
	Debug DebugHooks
}

// Validate reports a configuration error, following the
// Chapter12/dbspgraph WorkerConfig.Validate convention of surfacing
// construction-time mistakes before a Worker is built.
func (c *WorkerConfig) Validate() error {
	if c.TaskFactory == nil {
		return xerrors.New("worker config: TaskFactory is required")
	}
	return nil
}

// Worker owns one goroutine-backed execution unit running a Task. It
// exposes start/stop/restart/join/is-alive and reports lifecycle events to
// its Manager, per SPEC_FULL.md §4.4.
type Worker struct {
	id        uuid.UUID
	nodeName  string
	namespace string
	factory   func() (*Task, error)
	manager   EventSink
	debug     DebugHooks

	mu      sync.Mutex
	task    *Task
	cancel  context.CancelFunc
	done    chan struct{}
	alive   bool
	baseCtx context.Context
}

// NewWorker validates cfg and returns an idle Worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("new worker: %w", err)
	}

	id := cfg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	debug := cfg.Debug
	if debug == nil {
		debug = NewDebugHooks(nil)
	}

	return &Worker{
		id:        id,
		nodeName:  cfg.NodeName,
		namespace: cfg.Namespace,
		factory:   cfg.TaskFactory,
		manager:   cfg.Manager,
		debug:     debug,
	}, nil
}

// ID returns the worker's identity. It never changes across Restart calls.
func (w *Worker) ID() uuid.UUID { return w.id }

// IsAlive reports whether the worker's run loop is currently executing.
func (w *Worker) IsAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}

// Start creates the Task (via the configured factory), spawns its run
// loop in a goroutine, and registers with the Manager. Calling Start on an
// already-running Worker is a no-op.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.alive {
		w.mu.Unlock()
		return nil
	}

	task, err := w.factory()
	if err != nil {
		w.mu.Unlock()
		return xerrors.Errorf("worker %s start: %w", w.id, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.task = task
	w.cancel = cancel
	w.baseCtx = ctx
	w.done = make(chan struct{})
	w.alive = true
	done := w.done
	w.mu.Unlock()

	if w.manager != nil {
		w.manager.Register(w.id.String(), w)
	}

	go w.run(runCtx, task, done)
	return nil
}

// run is the goroutine body: it installs a cancellation handler that
// flips the Task's exit signal when runCtx is cancelled, drives
// Task.RunForever, and translates the outcome into a lifecycle event.
func (w *Worker) run(runCtx context.Context, task *Task, done chan struct{}) {
	defer close(done)

	labeledCtx, cleanup := w.debug.LabelWorker(runCtx, w.namespace, w.nodeName, w.id.String())
	defer cleanup()

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-runCtx.Done():
			task.Stop()
		case <-stopWatch:
		}
	}()

	err := task.RunForever(labeledCtx)

	w.mu.Lock()
	w.alive = false
	w.mu.Unlock()

	if w.manager == nil {
		if err != nil && !xerrors.Is(err, errMaxRequests) {
			w.debug.Escalate(err)
		}
		return
	}

	switch {
	case err == nil:
		// Clean exit: poison pill or exit signal. No event.
	case xerrors.Is(err, errMaxRequests):
		w.manager.Emit(Event{Kind: EventMaxRequests, WorkerID: w.id.String(), NodeName: w.nodeName})
	default:
		w.debug.Escalate(err)
		w.manager.Emit(Event{Kind: EventException, WorkerID: w.id.String(), NodeName: w.nodeName, Err: err})
	}
}

// Stop signals the worker's Task to exit gracefully. Observed at the next
// polling boundary, not instantly. Idempotent if never started or already
// stopped.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

// Join blocks until the worker's run loop exits, or until timeout elapses
// (zero means block indefinitely). It returns true if the worker exited
// within the window.
func (w *Worker) Join(timeout time.Duration) bool {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()

	if done == nil {
		return true
	}
	if timeout <= 0 {
		<-done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Terminate marks the worker dead immediately without waiting for the run
// loop to notice. Go cannot forcibly preempt a goroutine, so the underlying
// goroutine may keep running in the background until it observes
// ctx.Done() or returns on its own; this mirrors Guard's same caveat (see
// deadline.go) and is not repeated at each call site beyond this one.
func (w *Worker) Terminate() {
	w.mu.Lock()
	w.alive = false
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Restart performs stop, join with a timeout (escalating to Terminate if
// the join times out), then start — preserving the worker's identity. The
// task factory is invoked again, so RequestsCount resets.
func (w *Worker) Restart(joinTimeout time.Duration) error {
	w.mu.Lock()
	ctx := w.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	w.mu.Unlock()

	w.Stop()
	if !w.Join(joinTimeout) {
		w.Terminate()
	}
	if w.manager != nil {
		w.manager.Unregister(w.id.String())
	}
	return w.Start(ctx)
}
