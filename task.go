package multipipes

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

// Sequence marks a target result that must be flattened into one pushed
// item per element, rather than pushed as a single item.
type Sequence []interface{}

// Generator marks a target result that lazily produces items. Task.push
// drains it by calling it repeatedly until ok is false, pushing one item
// per call that returns true.
type Generator func() (item interface{}, ok bool)

// TaskConfig parameterizes a single Worker's run-loop. A Node builds one
// fresh TaskConfig (and thus one fresh Task) per Worker it starts, so that
// per-worker state such as RequestsCount always begins at zero.
type TaskConfig struct {
	// Target is the user-supplied transformation invoked once per pulled
	// item (or once per timeout tick, if Target.AcceptsTimeout()).
	Target Target

	// Indata is the Channel items are pulled from. Nil marks a source
	// stage: Step invokes Target with zero arguments and never pulls.
	Indata *Channel

	// Outdata is the Channel results are pushed to. Nil marks a sink
	// stage: results are discarded after Target runs (MarkAsProcessed
	// equivalents are the caller's concern, as the source keeps Items
	// opaque).
	Outdata *Channel

	// MaxExecutionTime bounds a single Target invocation via Guard. Zero
	// means unbounded.
	MaxExecutionTime time.Duration

	// Timeout is the read deadline used when pulling from Indata. Zero
	// means Task.Step blocks indefinitely (subject to PollingTimeout
	// cancellation checks) waiting for an item.
	Timeout time.Duration

	// PollingTimeout is the granularity at which a blocking read is
	// interrupted to check for a stop request. Defaults to 500ms when
	// zero.
	PollingTimeout time.Duration

	// MaxRequests is the per-Task quota of successful steps before the
	// Task reports errMaxRequests and retires. Zero means unlimited. The
	// owning Node applies variance smoothing before handing this value
	// to NewTask; Task itself treats it as a fixed bound.
	MaxRequests int

	// SessionID is the Node generation this Task belongs to, used to
	// decide whether an inbound PoisonPill should retire this Task.
	SessionID uuid.UUID
}

// Task is one Worker's run-loop: pull an item (or time out), invoke the
// target, push the result, and account for the request quota.
type Task struct {
	target           Target
	indata           *Channel
	outdata          *Channel
	maxExecutionTime time.Duration
	timeout          time.Duration
	pollingTimeout   time.Duration
	maxRequests      int
	sessionID        uuid.UUID

	requestsCount int
	exitSignal    atomic.Bool
	running       bool
}

// NewTask validates cfg and returns a ready-to-run Task.
func NewTask(cfg TaskConfig) (*Task, error) {
	if cfg.Timeout > 0 && !cfg.Target.AcceptsTimeout() {
		return nil, xerrors.Errorf("new task: %w", ErrTimeoutNotSupported)
	}

	pollingTimeout := cfg.PollingTimeout
	if pollingTimeout <= 0 {
		pollingTimeout = 500 * time.Millisecond
	}

	return &Task{
		target:           cfg.Target,
		indata:           cfg.Indata,
		outdata:          cfg.Outdata,
		maxExecutionTime: cfg.MaxExecutionTime,
		timeout:          cfg.Timeout,
		pollingTimeout:   pollingTimeout,
		maxRequests:      cfg.MaxRequests,
		sessionID:        cfg.SessionID,
		running:          true,
	}, nil
}

// RequestsCount returns the number of items this Task has successfully
// processed so far.
func (t *Task) RequestsCount() int { return t.requestsCount }

// Stop requests a graceful exit. It is observed at the next polling
// boundary, not instantly.
func (t *Task) Stop() { t.exitSignal.Store(true) }

// RunForever drives Step in a loop until the Task stops cleanly (exit
// signal, matching poison pill) or its quota is reached. A clean stop
// returns nil; a quota-exhaustion returns errMaxRequests so the owning
// Worker can emit a max_requests event; any other non-nil error is a
// target failure (including ErrDeadlineExceeded) that the Worker must
// report as an exception event.
func (t *Task) RunForever(ctx context.Context) error {
	for {
		if t.exitSignal.Load() {
			return nil
		}

		err := t.Step(ctx)
		if err == nil {
			if !t.running {
				return nil
			}
			continue
		}

		if xerrors.Is(err, errPoisonConsumed) {
			return nil
		}
		return err
	}
}

// Step pulls one input (if any), invokes the target, pushes the output (if
// any), and accounts for the request quota. See SPEC_FULL.md §4.3 for the
// full pull/invoke/push policy this implements.
func (t *Task) Step(ctx context.Context) error {
	if t.indata == nil {
		result, err := Guard(ctx, t.maxExecutionTime, func(ctx context.Context) (interface{}, error) {
			return t.target.Invoke(ctx, nil, false)
		})
		if err != nil {
			return err
		}
		t.push(result)
		return t.accountRequest()
	}

	item, gotItem, stopRequested, err := t.pull()
	if err != nil {
		return err
	}
	if stopRequested {
		t.running = false
		return nil
	}

	if !gotItem {
		if !t.target.AcceptsTimeout() {
			return nil
		}
		args := make([]interface{}, t.target.ParamsCount())
		result, err := Guard(ctx, t.maxExecutionTime, func(ctx context.Context) (interface{}, error) {
			return t.target.Invoke(ctx, args, true)
		})
		if err != nil {
			return err
		}
		t.push(result)
		return nil
	}

	if pill, ok := item.(PoisonPill); ok {
		if pill.Matches(t.sessionID) {
			t.running = false
			return errPoisonConsumed
		}
		// Stale pill from a previous generation: discard and keep running.
		return nil
	}

	args := t.unpackArgs(item)
	result, err := Guard(ctx, t.maxExecutionTime, func(ctx context.Context) (interface{}, error) {
		return t.target.Invoke(ctx, args, false)
	})
	if err != nil {
		return err
	}
	t.push(result)
	return t.accountRequest()
}

func (t *Task) accountRequest() error {
	t.requestsCount++
	if t.maxRequests > 0 && t.requestsCount >= t.maxRequests {
		t.running = false
		return errMaxRequests
	}
	return nil
}

// pull implements the read-deadline policy of SPEC_FULL.md §4.3. It is only
// called when t.indata is non-nil.
func (t *Task) pull() (item interface{}, gotItem bool, stopRequested bool, err error) {
	if t.timeout <= 0 {
		for {
			v, gerr := t.indata.Get(t.pollingTimeout)
			if gerr == nil {
				return v, true, false, nil
			}
			if t.exitSignal.Load() {
				return nil, false, true, nil
			}
		}
	}

	if t.timeout <= t.pollingTimeout {
		v, gerr := t.indata.Get(t.timeout)
		if gerr == nil {
			return v, true, false, nil
		}
		return nil, false, false, nil
	}

	attempts := int(t.timeout / t.pollingTimeout)
	for i := 0; i < attempts; i++ {
		v, gerr := t.indata.Get(t.pollingTimeout)
		if gerr == nil {
			return v, true, false, nil
		}
		if t.exitSignal.Load() {
			return nil, false, true, nil
		}
	}

	v, gerr := t.indata.Get(t.timeout - t.pollingTimeout)
	if gerr == nil {
		return v, true, false, nil
	}
	return nil, false, false, nil
}

// unpackArgs implements the positional-argument interpretation of a pulled
// item: a Sequence unpacks into positional args, anything else becomes a
// single argument.
func (t *Task) unpackArgs(item interface{}) []interface{} {
	if seq, ok := item.(Sequence); ok {
		return []interface{}(seq)
	}
	if seq, ok := item.([]interface{}); ok {
		return seq
	}
	return []interface{}{item}
}

// push implements the output-flattening policy: a nil result pushes
// nothing, a Sequence or Generator is flattened element by element, and any
// other value becomes a single pushed item. Pushing is a no-op when outdata
// is nil (sink stage).
func (t *Task) push(result interface{}) {
	if t.outdata == nil || result == nil {
		return
	}

	switch v := result.(type) {
	case Sequence:
		for _, el := range v {
			_ = t.outdata.Put(el, 0)
		}
	case Generator:
		for {
			el, ok := v()
			if !ok {
				return
			}
			_ = t.outdata.Put(el, 0)
		}
	default:
		_ = t.outdata.Put(result, 0)
	}
}
