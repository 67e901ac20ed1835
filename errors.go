package multipipes

import "golang.org/x/xerrors"

// Sentinel errors returned by the various components of a pipeline. Callers
// should compare against these with xerrors.Is rather than string matching.
var (
	// ErrInvalidTopology is returned by New (Pipeline construction) when the
	// declarative item list cannot be wired into a valid graph, such as two
	// adjacent explicit Channels, and by NewNode for a Node configured with
	// an invalid worker count or no target.
	ErrInvalidTopology = xerrors.New("multipipes: invalid topology")

	// ErrTimeoutNotSupported is returned at Task construction when a timeout
	// is configured but the target does not declare itself able to accept one.
	ErrTimeoutNotSupported = xerrors.New("multipipes: target does not accept a timeout tick")

	// ErrDeadlineExceeded is returned when a guarded invocation runs longer
	// than its configured wall-clock budget.
	ErrDeadlineExceeded = xerrors.New("multipipes: deadline exceeded")

	// errMaxRequests is raised internally by Task.step once the worker's
	// request quota is reached. It never escapes the Task/Worker boundary
	// as an error value — it is converted into a maxRequestsEvent instead.
	errMaxRequests = xerrors.New("multipipes: max requests reached")

	// errPoisonConsumed is raised internally by Task.step when a matching
	// PoisonPill is observed. It signals a clean worker exit and is never
	// reported as a failure.
	errPoisonConsumed = xerrors.New("multipipes: poison pill consumed")
)

// WorkerError wraps an error raised by a target invocation together with the
// identity of the Worker and Node it occurred on, so Manager.Errors() callers
// can tell which stage misbehaved without parsing strings.
type WorkerError struct {
	NodeName string
	WorkerID string
	Err      error
}

func (e *WorkerError) Error() string {
	return xerrors.Errorf("node %q worker %s: %w", e.NodeName, e.WorkerID, e.Err).Error()
}

func (e *WorkerError) Unwrap() error { return e.Err }
