package multipipes

import (
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// EventKind identifies the shape of an Event's context field, matching the
// events-channel schema from SPEC_FULL.md §6.
type EventKind string

const (
	// EventMaxRequests is emitted by a Worker when its Task's quota is
	// reached. The Manager restarts that Worker, keeping pool size
	// invariant.
	EventMaxRequests EventKind = "max_requests"

	// EventException is emitted by a Worker when its target raised an
	// unhandled error (including ErrDeadlineExceeded).
	EventException EventKind = "exception"

	// EventMissingPID is reserved; see Manager's HandleMissingPID doc
	// comment for this port's chosen semantics.
	EventMissingPID EventKind = "missing_pid"

	// EventExit asks the Manager's dispatch loop to stop.
	EventExit EventKind = "exit"
)

// Event is a single record flowing over the Manager's events channel.
type Event struct {
	Kind     EventKind
	WorkerID string
	NodeName string
	Err      error
}

// EventSink is the interface a Worker uses to report lifecycle events and
// register/unregister itself, without owning the Manager it reports to —
// per SPEC_FULL.md's "Worker does not own Manager" design note.
type EventSink interface {
	Emit(Event)
	Register(workerID string, w *Worker)
	Unregister(workerID string)
}

// ManagerConfig configures a Manager's supervision policy.
type ManagerConfig struct {
	// RestartOnError restarts the owning Pipeline after an exception
	// event, once RestartSettleDelay has elapsed. Default false.
	RestartOnError bool

	// RestartOnMaxRequests restarts the retiring Worker (not the whole
	// pipeline) when its quota is reached. NewManager does not change this
	// field, so its zero value (false) applies when it is not set: a Worker
	// that reaches its quota then stays stopped and its Node's pool shrinks.
	RestartOnMaxRequests bool

	// RestartSettleDelay is the brief pause the Manager waits before
	// triggering a pipeline restart after an exception event, giving any
	// other in-flight events a chance to be dispatched first.
	RestartSettleDelay time.Duration

	// JoinTimeout bounds how long a Worker restart waits for the retiring
	// Task to exit cleanly before escalating to Terminate.
	JoinTimeout time.Duration

	// Logger receives structured diagnostics. Defaults to
	// logrus.StandardLogger().
	Logger *logrus.Logger

	// Metrics, if non-nil, receives Prometheus updates for every
	// dispatched event. See metrics.go.
	Metrics *Metrics
}

// restartable is the subset of Pipeline a Manager needs in order to honor
// RestartOnError without importing a concrete Pipeline type at field
// declaration time (pipeline.go sets this after constructing the Manager).
type restartable interface {
	Restart(hard bool) error
}

// Manager is the supervisor described in SPEC_FULL.md §4.7: a
// single-reader event bus that receives Worker lifecycle events and reacts
// according to policy (recycle worker, restart pipeline, escalate).
type Manager struct {
	cfg ManagerConfig

	events chan Event

	mu      sync.Mutex
	workers map[string]*Worker
	errors  *multierror.Error
	running bool

	pipeline restartable

	wg sync.WaitGroup
}

// NewManager returns a Manager ready to have its Run loop started.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.RestartSettleDelay <= 0 {
		cfg.RestartSettleDelay = 250 * time.Millisecond
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &Manager{
		cfg:     cfg,
		events:  make(chan Event, 64),
		workers: make(map[string]*Worker),
	}
}

// AttachPipeline lets the Manager drive RestartOnError. Called by Pipeline
// once it has constructed itself around this Manager.
func (m *Manager) AttachPipeline(p restartable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline = p
}

// Errors returns a snapshot of every exception recorded so far, in the
// order the underlying worker events were dispatched.
func (m *Manager) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		return nil
	}
	out := make([]error, len(m.errors.Errors))
	copy(out, m.errors.Errors)
	return out
}

// Register implements EventSink.
func (m *Manager) Register(workerID string, w *Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[workerID] = w
}

// Unregister implements EventSink.
func (m *Manager) Unregister(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers, workerID)
}

// Emit implements EventSink. It never blocks the caller: the events channel
// is large enough that a Worker reporting its own retirement never stalls
// behind a slow Manager, and a full channel drops the event rather than
// deadlocking the pipeline.
func (m *Manager) Emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.cfg.Logger.WithField("kind", ev.Kind).Warn("multipipes: manager event dropped, channel full")
	}
}

// Run starts the Manager's single-reader dispatch loop. It blocks until an
// EventExit event is emitted or stop is called.
func (m *Manager) Run() {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	for ev := range m.events {
		if !m.dispatch(ev) {
			return
		}
	}
}

// Stop asks the dispatch loop to exit.
func (m *Manager) Stop() {
	m.Emit(Event{Kind: EventExit})
}

func (m *Manager) dispatch(ev Event) (keepRunning bool) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.observeEvent(ev)
	}

	switch ev.Kind {
	case EventMaxRequests:
		m.handleMaxRequests(ev)
	case EventException:
		m.handleException(ev)
	case EventMissingPID:
		m.HandleMissingPID(ev)
	case EventExit:
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return false
	}
	return true
}

func (m *Manager) handleMaxRequests(ev Event) {
	m.mu.Lock()
	w, ok := m.workers[ev.WorkerID]
	restart := m.cfg.RestartOnMaxRequests
	joinTimeout := m.cfg.JoinTimeout
	m.mu.Unlock()

	if !ok {
		m.cfg.Logger.WithField("worker_id", ev.WorkerID).Warn("multipipes: max_requests for unknown worker")
		return
	}
	if !restart {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := w.Restart(joinTimeout); err != nil {
			m.cfg.Logger.WithError(err).WithField("worker_id", ev.WorkerID).Error("multipipes: worker restart after max_requests failed")
		}
	}()
}

func (m *Manager) handleException(ev Event) {
	m.mu.Lock()
	m.errors = multierror.Append(m.errors, &WorkerError{NodeName: ev.NodeName, WorkerID: ev.WorkerID, Err: ev.Err})
	restart := m.cfg.RestartOnError
	pipeline := m.pipeline
	settle := m.cfg.RestartSettleDelay
	m.mu.Unlock()

	m.cfg.Logger.WithError(ev.Err).WithField("worker_id", ev.WorkerID).Error("multipipes: worker exception")

	if !restart || pipeline == nil {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		time.Sleep(settle)
		if err := pipeline.Restart(false); err != nil {
			m.cfg.Logger.WithError(err).Error("multipipes: pipeline restart after exception failed")
		}
	}()
}

// HandleMissingPID documents this port's chosen semantics for the source's
// unimplemented missing_pid event (see SPEC_FULL.md §9 / §4.7). This port
// has no PID; a Worker always registers before its run loop can emit any
// event, so a missing_pid can only arise from a caller manufacturing an
// event for an unregistered worker id. It is logged at Warn and otherwise
// a no-op, same as the source.
func (m *Manager) HandleMissingPID(ev Event) {
	m.cfg.Logger.WithField("worker_id", ev.WorkerID).Warn("multipipes: missing_pid event (reserved, no-op)")
}

// Wait blocks until every in-flight restart triggered by dispatch has
// completed. Nothing in this package calls it; Pipeline.Stop does not wait
// for in-flight restarts.
func (m *Manager) Wait() {
	m.wg.Wait()
}
