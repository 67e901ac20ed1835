package multipipes_test

import (
	"context"
	"sync"
	"time"

	"github.com/bigchaindb/multipipes"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(WorkerTestSuite))

type WorkerTestSuite struct{}

// stubSink is a minimal multipipes.EventSink used across worker/manager
// tests to observe what a Worker reports without spinning up a real
// Manager.
type stubSink struct {
	mu     sync.Mutex
	events []multipipes.Event
}

func (s *stubSink) Emit(ev multipipes.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}
func (s *stubSink) Register(string, *multipipes.Worker)   {}
func (s *stubSink) Unregister(string)                     {}
func (s *stubSink) snapshot() []multipipes.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]multipipes.Event(nil), s.events...)
}

func (s *WorkerTestSuite) TestStartStopJoin(c *gc.C) {
	in := multipipes.NewChannel(1)
	target := multipipes.Func1(func(ctx context.Context, arg interface{}) (interface{}, error) {
		return arg, nil
	})

	w, err := multipipes.NewWorker(multipipes.WorkerConfig{
		NodeName: "n",
		TaskFactory: func() (*multipipes.Task, error) {
			return multipipes.NewTask(multipipes.TaskConfig{Target: target, Indata: in, PollingTimeout: 10 * time.Millisecond})
		},
	})
	c.Assert(err, gc.IsNil)

	c.Assert(w.Start(context.Background()), gc.IsNil)
	c.Assert(w.IsAlive(), gc.Equals, true)

	w.Stop()
	c.Assert(w.Join(time.Second), gc.Equals, true)
	c.Assert(w.IsAlive(), gc.Equals, false)
}

func (s *WorkerTestSuite) TestMaxRequestsEmitsEvent(c *gc.C) {
	in := multipipes.NewChannel(2)
	target := multipipes.Func1(func(ctx context.Context, arg interface{}) (interface{}, error) {
		return nil, nil
	})
	sink := &stubSink{}

	w, err := multipipes.NewWorker(multipipes.WorkerConfig{
		NodeName: "n",
		Manager:  sink,
		TaskFactory: func() (*multipipes.Task, error) {
			return multipipes.NewTask(multipipes.TaskConfig{Target: target, Indata: in, MaxRequests: 1, PollingTimeout: 10 * time.Millisecond})
		},
	})
	c.Assert(err, gc.IsNil)
	c.Assert(in.Put(1, 0), gc.IsNil)
	c.Assert(w.Start(context.Background()), gc.IsNil)
	c.Assert(w.Join(time.Second), gc.Equals, true)

	events := sink.snapshot()
	c.Assert(events, gc.HasLen, 1)
	c.Assert(events[0].Kind, gc.Equals, multipipes.EventMaxRequests)
}

func (s *WorkerTestSuite) TestExceptionEmitsEvent(c *gc.C) {
	in := multipipes.NewChannel(1)
	target := multipipes.Func1(func(ctx context.Context, arg interface{}) (interface{}, error) {
		return nil, errBoom
	})
	sink := &stubSink{}

	w, err := multipipes.NewWorker(multipipes.WorkerConfig{
		NodeName: "n",
		Manager:  sink,
		TaskFactory: func() (*multipipes.Task, error) {
			return multipipes.NewTask(multipipes.TaskConfig{Target: target, Indata: in, PollingTimeout: 10 * time.Millisecond})
		},
	})
	c.Assert(err, gc.IsNil)
	c.Assert(in.Put(1, 0), gc.IsNil)
	c.Assert(w.Start(context.Background()), gc.IsNil)
	c.Assert(w.Join(time.Second), gc.Equals, true)

	events := sink.snapshot()
	c.Assert(events, gc.HasLen, 1)
	c.Assert(events[0].Kind, gc.Equals, multipipes.EventException)
}

func (s *WorkerTestSuite) TestRestartPreservesIdentityAndResetsQuota(c *gc.C) {
	in := multipipes.NewChannel(4)
	target := multipipes.Func1(func(ctx context.Context, arg interface{}) (interface{}, error) {
		return nil, nil
	})

	// builds counts Task constructions: each one starts a fresh quota
	// counter, so a second build after Restart means the quota was reset.
	builds := 0
	w, err := multipipes.NewWorker(multipipes.WorkerConfig{
		NodeName: "n",
		TaskFactory: func() (*multipipes.Task, error) {
			builds++
			return multipipes.NewTask(multipipes.TaskConfig{Target: target, Indata: in, PollingTimeout: 10 * time.Millisecond})
		},
	})
	c.Assert(err, gc.IsNil)
	id := w.ID()

	c.Assert(w.Start(context.Background()), gc.IsNil)
	c.Assert(w.Restart(time.Second), gc.IsNil)
	c.Assert(w.ID(), gc.Equals, id)
	c.Assert(w.IsAlive(), gc.Equals, true)
	c.Assert(builds, gc.Equals, 2)
	w.Stop()
	w.Join(time.Second)
}
