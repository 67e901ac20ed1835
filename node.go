package multipipes

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

// NodeConfig parameterizes one pipeline stage: a pool of Workers sharing a
// target and a pair of channels.
type NodeConfig struct {
	// Name labels the node for events, metrics and goroutine labels.
	Name string

	// Target is the transformation every Worker in this Node's pool
	// invokes.
	Target Target

	// NumberOfProcesses and FractionOfCores are mutually exclusive; both
	// non-zero is an ErrInvalidTopology. When neither is set, the pool
	// size defaults to 1. FractionOfCores rounds up via ceiling against
	// runtime.NumCPU(), guaranteeing at least one worker.
	NumberOfProcesses int
	FractionOfCores   float64

	// Timeout is the per-Task pull read-deadline (see Task.pull).
	Timeout time.Duration

	// PollingTimeout is the per-Task cancellation-check granularity.
	// Defaults to 500ms when zero.
	PollingTimeout time.Duration

	// MaxExecutionTime bounds a single target invocation.
	MaxExecutionTime time.Duration

	// MaxRequests is the nominal per-worker quota before voluntary
	// retirement. Zero means unlimited. Each worker's effective quota is
	// jittered by ±5% (see effectiveMaxRequests) unless
	// DisableRequestsVariance is set — scenario 4 of SPEC_FULL.md §8
	// requires a deterministic quota for testing.
	MaxRequests             int
	DisableRequestsVariance bool

	// Manager is the optional event sink every Worker in this pool
	// reports to.
	Manager EventSink

	// Namespace is the owning Pipeline's process_namespace label.
	Namespace string

	// Debug supplies escalation/labeling collaborators for every Worker
	// in this pool. Defaults to NewDebugHooks(nil) when nil.
	Debug DebugHooks
}

// Validate reports an ErrInvalidTopology-wrapped error for a malformed
// configuration.
func (c *NodeConfig) Validate() error {
	if c.NumberOfProcesses > 0 && c.FractionOfCores > 0 {
		return xerrors.Errorf("node %q: number_of_processes and fraction_of_cores are mutually exclusive: %w", c.Name, ErrInvalidTopology)
	}
	if c.NumberOfProcesses < 0 {
		return xerrors.Errorf("node %q: number_of_processes must be >= 0: %w", c.Name, ErrInvalidTopology)
	}
	if c.FractionOfCores < 0 {
		return xerrors.Errorf("node %q: fraction_of_cores must be >= 0: %w", c.Name, ErrInvalidTopology)
	}
	if c.Target == nil {
		return xerrors.Errorf("node %q: target is required: %w", c.Name, ErrInvalidTopology)
	}
	return nil
}

func (c *NodeConfig) workerCount() int {
	if c.NumberOfProcesses > 0 {
		return c.NumberOfProcesses
	}
	if c.FractionOfCores > 0 {
		return int(math.Ceil(c.FractionOfCores * float64(runtime.NumCPU())))
	}
	return 1
}

// Node owns the Worker pool for one pipeline stage. Its indata/outdata are
// assigned by the Pipeline wiring algorithm (see pipeline.go) before Start
// is called.
type Node struct {
	cfg NodeConfig

	indata  *Channel
	outdata *Channel

	mu         sync.Mutex
	workers    []*Worker
	generation uuid.UUID
	debugTask  *Task
}

// NewNode validates cfg and returns a Node with no running Workers yet.
func NewNode(cfg NodeConfig) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PollingTimeout <= 0 {
		cfg.PollingTimeout = 500 * time.Millisecond
	}
	if cfg.Debug == nil {
		cfg.Debug = NewDebugHooks(nil)
	}
	return &Node{cfg: cfg}, nil
}

// Name returns the node's configured name.
func (n *Node) Name() string { return n.cfg.Name }

// Indata returns the channel this node reads from, or nil for the head of
// a pipeline.
func (n *Node) Indata() *Channel { return n.indata }

// Outdata returns the channel this node writes to, or nil for the tail of
// a pipeline.
func (n *Node) Outdata() *Channel { return n.outdata }

// setIndata and setOutdata are called by the Pipeline wiring algorithm.
// They are split rather than combined so that wiring one side of a Node
// never clobbers a side already assigned by a neighboring item.
func (n *Node) setIndata(ch *Channel)  { n.indata = ch }
func (n *Node) setOutdata(ch *Channel) { n.outdata = ch }

// effectiveMaxRequests applies the ±5% variance smoothing from
// SPEC_FULL.md §4.5, desynchronizing simultaneous retirements across a
// large pool.
func (n *Node) effectiveMaxRequests() int {
	if n.cfg.MaxRequests <= 0 || n.cfg.DisableRequestsVariance {
		return n.cfg.MaxRequests
	}
	delta := int(math.Round(float64(n.cfg.MaxRequests) * 0.05))
	if delta <= 0 {
		return n.cfg.MaxRequests
	}
	jitter := rand.Intn(2*delta+1) - delta
	result := n.cfg.MaxRequests + jitter
	if result < 1 {
		result = 1
	}
	return result
}

// Start mints a fresh generation and constructs workerCount Workers, each
// with its own Task built from a fresh TaskConfig (so RequestsCount begins
// at zero and stale poison pills from a previous generation are ignored).
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	generation := uuid.New()
	n.generation = generation
	n.mu.Unlock()

	count := n.cfg.workerCount()
	workers := make([]*Worker, 0, count)
	for i := 0; i < count; i++ {
		w, err := NewWorker(WorkerConfig{
			NodeName:  n.cfg.Name,
			Namespace: n.cfg.Namespace,
			Manager:   n.cfg.Manager,
			Debug:     n.cfg.Debug,
			TaskFactory: func() (*Task, error) {
				return NewTask(TaskConfig{
					Target:           n.cfg.Target,
					Indata:           n.indata,
					Outdata:          n.outdata,
					MaxExecutionTime: n.cfg.MaxExecutionTime,
					Timeout:          n.cfg.Timeout,
					PollingTimeout:   n.cfg.PollingTimeout,
					MaxRequests:      n.effectiveMaxRequests(),
					SessionID:        generation,
				})
			},
		})
		if err != nil {
			return xerrors.Errorf("node %q start: %w", n.cfg.Name, err)
		}
		if err := w.Start(ctx); err != nil {
			return xerrors.Errorf("node %q start: %w", n.cfg.Name, err)
		}
		workers = append(workers, w)
	}

	n.mu.Lock()
	n.workers = workers
	n.mu.Unlock()
	return nil
}

// Stop sends one poison pill per worker into indata (tagged with the
// node's current generation so only this generation's workers retire),
// then joins every worker up to timeout, force-terminating any still
// running. Source nodes (no indata) are stopped by signalling each
// worker directly since there is no channel to poison.
func (n *Node) Stop(timeout time.Duration) {
	n.mu.Lock()
	workers := append([]*Worker(nil), n.workers...)
	generation := n.generation
	indata := n.indata
	n.mu.Unlock()

	if indata != nil {
		for range workers {
			_ = indata.Put(NewPoisonPill(generation), timeout)
		}
	} else {
		for _, w := range workers {
			w.Stop()
		}
	}

	deadline := time.Now().Add(timeout)
	for _, w := range workers {
		remaining := timeout
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
		}
		if !w.Join(remaining) {
			w.Terminate()
		}
	}
}

// Terminate force-stops every worker without waiting.
func (n *Node) Terminate() {
	n.mu.Lock()
	workers := append([]*Worker(nil), n.workers...)
	n.mu.Unlock()
	for _, w := range workers {
		w.Terminate()
	}
}

// Join blocks until every worker exits, or until timeout elapses for each.
func (n *Node) Join(timeout time.Duration) {
	n.mu.Lock()
	workers := append([]*Worker(nil), n.workers...)
	n.mu.Unlock()
	for _, w := range workers {
		w.Join(timeout)
	}
}

// IsAlive reports whether every worker in the pool is currently running.
func (n *Node) IsAlive() bool {
	n.mu.Lock()
	workers := append([]*Worker(nil), n.workers...)
	n.mu.Unlock()
	if len(workers) == 0 {
		return false
	}
	for _, w := range workers {
		if !w.IsAlive() {
			return false
		}
	}
	return true
}

// Step synchronously runs one Task.Step call against this node's channels,
// independent of the pooled Workers' own goroutines. It exists for
// Pipeline.Step's deterministic single-iteration debug mode and must not
// be called concurrently with a running pool on the same channels.
func (n *Node) Step(ctx context.Context) error {
	n.mu.Lock()
	if n.debugTask == nil {
		task, err := NewTask(TaskConfig{
			Target:         n.cfg.Target,
			Indata:         n.indata,
			Outdata:        n.outdata,
			Timeout:        n.cfg.Timeout,
			PollingTimeout: n.cfg.PollingTimeout,
		})
		if err != nil {
			n.mu.Unlock()
			return xerrors.Errorf("node %q step: %w", n.cfg.Name, err)
		}
		n.debugTask = task
	}
	task := n.debugTask
	n.mu.Unlock()

	return task.Step(ctx)
}
