package multipipes_test

import (
	"context"
	"time"

	"github.com/bigchaindb/multipipes"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(ManagerTestSuite))

type ManagerTestSuite struct{}

func (s *ManagerTestSuite) TestMaxRequestsRestartsWorkerKeepingPoolSize(c *gc.C) {
	manager := multipipes.NewManager(multipipes.ManagerConfig{RestartOnMaxRequests: true})
	defer manager.Stop()

	n, err := multipipes.NewNode(multipipes.NodeConfig{
		Name:                    "double",
		NumberOfProcesses:       1,
		MaxRequests:             10,
		DisableRequestsVariance: true,
		PollingTimeout:          10 * time.Millisecond,
		Manager:                 manager,
		Target: multipipes.Func1(func(ctx context.Context, arg interface{}) (interface{}, error) {
			return arg.(int) * 2, nil
		}),
	})
	c.Assert(err, gc.IsNil)

	p, err := multipipes.New([]interface{}{n}, manager, "quota")
	c.Assert(err, gc.IsNil)

	in := multipipes.NewChannel(1000)
	out := multipipes.NewChannel(1000)
	p.Setup(in, out)
	c.Assert(p.Start(context.Background()), gc.IsNil)
	defer p.Stop(time.Second)

	const total = 1000
	for i := 0; i < total; i++ {
		c.Assert(in.Put(i, 0), gc.IsNil)
	}

	got := 0
	deadline := time.After(10 * time.Second)
	for got < total {
		select {
		case <-deadline:
			c.Fatalf("only received %d/%d items before timing out", got, total)
		default:
		}
		if _, err := out.Get(200 * time.Millisecond); err == nil {
			got++
		}
	}
	c.Assert(got, gc.Equals, total)
}

func (s *ManagerTestSuite) TestExceptionIsRecorded(c *gc.C) {
	manager := multipipes.NewManager(multipipes.ManagerConfig{})
	defer manager.Stop()

	n, err := multipipes.NewNode(multipipes.NodeConfig{
		Name:           "boom",
		PollingTimeout: 10 * time.Millisecond,
		Manager:        manager,
		Target: multipipes.Func1(func(ctx context.Context, arg interface{}) (interface{}, error) {
			return nil, errBoom
		}),
	})
	c.Assert(err, gc.IsNil)

	p, err := multipipes.New([]interface{}{n}, manager, "err")
	c.Assert(err, gc.IsNil)

	in := multipipes.NewChannel(1)
	p.Setup(in, nil)
	c.Assert(p.Start(context.Background()), gc.IsNil)

	c.Assert(in.Put(1, 0), gc.IsNil)

	deadline := time.After(2 * time.Second)
	for {
		if len(manager.Errors()) > 0 {
			break
		}
		select {
		case <-deadline:
			c.Fatal("exception event never recorded")
		case <-time.After(10 * time.Millisecond):
		}
	}

	p.Stop(time.Second)
	errs := manager.Errors()
	c.Assert(errs, gc.HasLen, 1)
	c.Assert(errs[0], gc.ErrorMatches, ".*boom.*")
}

func (s *ManagerTestSuite) TestMissingPIDIsNoOp(c *gc.C) {
	manager := multipipes.NewManager(multipipes.ManagerConfig{})
	go manager.Run()
	defer manager.Stop()

	manager.Emit(multipipes.Event{Kind: multipipes.EventMissingPID, WorkerID: "ghost"})
	time.Sleep(20 * time.Millisecond)
	c.Assert(manager.Errors(), gc.HasLen, 0)
}
