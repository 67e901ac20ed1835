package multipipes

import (
	"context"
	"sync"
	"time"

	"golang.org/x/xerrors"
)

// Pipeline is an ordered composition of Nodes and optional explicit
// Channels. It wires them into a connected graph and drives pipeline-wide
// lifecycle (setup, start, stop, terminate, restart, single-step debug
// mode).
type Pipeline struct {
	items     []interface{}
	nodes     []*Node
	manager   *Manager
	namespace string

	mu           sync.Mutex
	lastIndata   *Channel
	lastOutdata  *Channel
	hasSetup     bool
	managerAlive bool
}

// New returns a Pipeline over the given declarative item list (each
// element must be a *Node or a *Channel). namespace labels goroutines and
// defaults to "pipeline" when empty, matching the source's
// process_namespace default.
func New(items []interface{}, manager *Manager, namespace string) (*Pipeline, error) {
	if namespace == "" {
		namespace = "pipeline"
	}

	nodes, err := wire(items)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		items:     items,
		nodes:     nodes,
		manager:   manager,
		namespace: namespace,
	}
	if manager != nil {
		manager.AttachPipeline(p)
	}
	return p, nil
}

// wire implements the left-to-right wiring algorithm of SPEC_FULL.md §4.6
// as a single iterative walk, rather than the source's sentinel-threaded
// recursion: a Node without a preceding explicit Channel gets a freshly
// allocated Channel as indata, shared as the previous Node's outdata; an
// explicit Channel is used verbatim by its neighboring Nodes; two explicit
// Channels in immediate succession is ErrInvalidTopology.
func wire(items []interface{}) ([]*Node, error) {
	var (
		nodes          []*Node
		prevNode       *Node
		pendingIndata  *Channel
		justSawChannel bool
		sawAnyNode     bool
	)

	for _, it := range items {
		switch v := it.(type) {
		case *Channel:
			if justSawChannel {
				return nil, xerrors.Errorf("pipeline: two adjacent explicit channels: %w", ErrInvalidTopology)
			}
			justSawChannel = true
			if prevNode != nil {
				prevNode.setOutdata(v)
			}
			pendingIndata = v

		case *Node:
			justSawChannel = false

			var indata *Channel
			switch {
			case pendingIndata != nil:
				indata = pendingIndata
			case sawAnyNode:
				indata = NewChannel(0)
				prevNode.setOutdata(indata)
			default:
				indata = nil // head of the pipeline; Setup may still assign one.
			}

			v.setIndata(indata)
			v.setOutdata(nil)

			nodes = append(nodes, v)
			prevNode = v
			pendingIndata = nil
			sawAnyNode = true

		default:
			return nil, xerrors.Errorf("pipeline: unsupported item type %T: %w", it, ErrInvalidTopology)
		}
	}

	if len(nodes) == 0 {
		return nil, xerrors.Errorf("pipeline: at least one node is required: %w", ErrInvalidTopology)
	}
	return nodes, nil
}

// Setup prepends/appends the caller-supplied channels so the head Node's
// indata and the tail Node's outdata are the external I/O channels. A head
// or tail that already has a channel (an explicit Channel from the item
// list, or an earlier Setup) keeps it, and the corresponding argument is
// ignored. The arguments are remembered so Restart can rewire identically.
func (p *Pipeline) Setup(indata, outdata *Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()

	head := p.nodes[0]
	tail := p.nodes[len(p.nodes)-1]

	if head.Indata() == nil {
		head.setIndata(indata)
	}
	if tail.Outdata() == nil {
		tail.setOutdata(outdata)
	}

	p.lastIndata = indata
	p.lastOutdata = outdata
	p.hasSetup = true
}

// Start starts the Manager's dispatch loop (if any) and every Node's
// worker pool, head to tail.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.manager != nil && !p.managerAlive {
		p.managerAlive = true
		go p.manager.Run()
	}
	nodes := append([]*Node(nil), p.nodes...)
	p.mu.Unlock()

	for _, n := range nodes {
		if err := n.Start(ctx); err != nil {
			return xerrors.Errorf("pipeline start: %w", err)
		}
	}
	return nil
}

// Stop stops each Node (poisoning its workers), joins with the given
// timeout (defaulting to 30s, matching the source), and force-terminates
// any stage that doesn't exit in time.
func (p *Pipeline) Stop(timeout time.Duration) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	p.mu.Lock()
	nodes := append([]*Node(nil), p.nodes...)
	p.mu.Unlock()

	for _, n := range nodes {
		n.Stop(timeout)
	}

	p.mu.Lock()
	if p.manager != nil {
		p.manager.Stop()
		p.managerAlive = false
	}
	p.mu.Unlock()
}

// Terminate force-stops every Node without waiting.
func (p *Pipeline) Terminate() {
	p.mu.Lock()
	nodes := append([]*Node(nil), p.nodes...)
	manager := p.manager
	p.mu.Unlock()

	for _, n := range nodes {
		n.Terminate()
	}
	if manager != nil {
		manager.Stop()
		p.mu.Lock()
		p.managerAlive = false
		p.mu.Unlock()
	}
}

// Join blocks until every Node's worker pool has exited, or until timeout
// elapses for each.
func (p *Pipeline) Join(timeout time.Duration) {
	p.mu.Lock()
	nodes := append([]*Node(nil), p.nodes...)
	p.mu.Unlock()
	for _, n := range nodes {
		n.Join(timeout)
	}
}

// IsAlive reports whether every Node in the pipeline is alive.
func (p *Pipeline) IsAlive() bool {
	p.mu.Lock()
	nodes := append([]*Node(nil), p.nodes...)
	p.mu.Unlock()
	for _, n := range nodes {
		if !n.IsAlive() {
			return false
		}
	}
	return true
}

// Restart stops the pipeline (or terminates it, if hard is true) and then
// re-runs Setup+Start with the last (indata, outdata) pair supplied to
// Setup, so the pool shape is identical to before the restart.
func (p *Pipeline) Restart(hard bool) error {
	if hard {
		p.Terminate()
	} else {
		p.Stop(30 * time.Second)
	}

	p.mu.Lock()
	indata, outdata, hasSetup := p.lastIndata, p.lastOutdata, p.hasSetup
	p.managerAlive = false
	p.mu.Unlock()

	if hasSetup {
		p.Setup(indata, outdata)
	}
	return p.Start(context.Background())
}

// Step synchronously drives one iteration through every Node in order,
// invoking each Node's underlying Task once. It exists for deterministic
// testing and must not be used concurrently with Start's pooled workers.
func (p *Pipeline) Step(ctx context.Context) error {
	p.mu.Lock()
	nodes := append([]*Node(nil), p.nodes...)
	p.mu.Unlock()

	for _, n := range nodes {
		if err := n.Step(ctx); err != nil {
			return xerrors.Errorf("pipeline step: %w", err)
		}
	}
	return nil
}

// Manager returns the supervisor attached to this pipeline, or nil.
func (p *Pipeline) Manager() *Manager { return p.manager }

// Nodes returns the ordered list of Nodes this pipeline wired.
func (p *Pipeline) Nodes() []*Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Node(nil), p.nodes...)
}
