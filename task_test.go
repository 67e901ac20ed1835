package multipipes_test

import (
	"context"
	"time"

	"github.com/bigchaindb/multipipes"
	"github.com/google/uuid"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(TaskTestSuite))

type TaskTestSuite struct{}

func (s *TaskTestSuite) TestStepUnpacksSequenceAndFlattensResult(c *gc.C) {
	in := multipipes.NewChannel(1)
	out := multipipes.NewChannel(4)

	target := multipipes.FuncN(2, func(ctx context.Context, args []interface{}) (interface{}, error) {
		a, b := args[0].(int), args[1].(int)
		return multipipes.Sequence{a, b, a + b}, nil
	})

	task, err := multipipes.NewTask(multipipes.TaskConfig{Target: target, Indata: in, Outdata: out})
	c.Assert(err, gc.IsNil)

	c.Assert(in.Put(multipipes.Sequence{4, 1}, 0), gc.IsNil)
	c.Assert(task.Step(context.Background()), gc.IsNil)

	for _, want := range []int{4, 1, 5} {
		got, err := out.Get(time.Second)
		c.Assert(err, gc.IsNil)
		c.Assert(got, gc.Equals, want)
	}
	c.Assert(task.RequestsCount(), gc.Equals, 1)
}

func (s *TaskTestSuite) TestStepOmitsNilResult(c *gc.C) {
	in := multipipes.NewChannel(1)
	out := multipipes.NewChannel(1)

	target := multipipes.Func1(func(ctx context.Context, arg interface{}) (interface{}, error) {
		return nil, nil
	})
	task, err := multipipes.NewTask(multipipes.TaskConfig{Target: target, Indata: in, Outdata: out})
	c.Assert(err, gc.IsNil)

	c.Assert(in.Put(1, 0), gc.IsNil)
	c.Assert(task.Step(context.Background()), gc.IsNil)

	_, err = out.Get(20 * time.Millisecond)
	c.Assert(err, gc.Equals, multipipes.ErrEmpty)
}

func (s *TaskTestSuite) TestMaxRequestsReachedExactly(c *gc.C) {
	in := multipipes.NewChannel(10)
	target := multipipes.Func1(func(ctx context.Context, arg interface{}) (interface{}, error) {
		return nil, nil
	})
	task, err := multipipes.NewTask(multipipes.TaskConfig{Target: target, Indata: in, MaxRequests: 3})
	c.Assert(err, gc.IsNil)

	for i := 0; i < 3; i++ {
		c.Assert(in.Put(i, 0), gc.IsNil)
	}

	var lastErr error
	for i := 0; i < 3; i++ {
		lastErr = task.Step(context.Background())
	}
	c.Assert(lastErr, gc.ErrorMatches, ".*max requests.*")
	c.Assert(task.RequestsCount(), gc.Equals, 3)
}

func (s *TaskTestSuite) TestMatchingPoisonPillStopsCleanly(c *gc.C) {
	in := multipipes.NewChannel(1)
	generation := uuid.New()
	target := multipipes.Func1(func(ctx context.Context, arg interface{}) (interface{}, error) {
		return arg, nil
	})
	task, err := multipipes.NewTask(multipipes.TaskConfig{Target: target, Indata: in, SessionID: generation})
	c.Assert(err, gc.IsNil)

	c.Assert(in.Put(multipipes.NewPoisonPill(generation), 0), gc.IsNil)
	c.Assert(task.Step(context.Background()), gc.ErrorMatches, ".*poison.*")
}

func (s *TaskTestSuite) TestStalePoisonPillIsDiscarded(c *gc.C) {
	in := multipipes.NewChannel(2)
	out := multipipes.NewChannel(1)
	currentGeneration := uuid.New()
	staleGeneration := uuid.New()

	target := multipipes.Func1(func(ctx context.Context, arg interface{}) (interface{}, error) {
		return arg, nil
	})
	task, err := multipipes.NewTask(multipipes.TaskConfig{Target: target, Indata: in, Outdata: out, SessionID: currentGeneration})
	c.Assert(err, gc.IsNil)

	c.Assert(in.Put(multipipes.NewPoisonPill(staleGeneration), 0), gc.IsNil)
	c.Assert(in.Put(7, 0), gc.IsNil)

	c.Assert(task.Step(context.Background()), gc.IsNil) // discards stale pill
	c.Assert(task.Step(context.Background()), gc.IsNil) // processes the real item

	got, err := out.Get(time.Second)
	c.Assert(err, gc.IsNil)
	c.Assert(got, gc.Equals, 7)
}

func (s *TaskTestSuite) TestDeadlineExceeded(c *gc.C) {
	in := multipipes.NewChannel(1)
	target := multipipes.Func1(func(ctx context.Context, arg interface{}) (interface{}, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return arg, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	task, err := multipipes.NewTask(multipipes.TaskConfig{Target: target, Indata: in, MaxExecutionTime: 20 * time.Millisecond})
	c.Assert(err, gc.IsNil)

	c.Assert(in.Put(1, 0), gc.IsNil)
	err = task.Step(context.Background())
	c.Assert(err, gc.Equals, multipipes.ErrDeadlineExceeded)
}

func (s *TaskTestSuite) TestTimeoutTargetRequiredWhenTimeoutSet(c *gc.C) {
	in := multipipes.NewChannel(1)
	target := multipipes.Func1(func(ctx context.Context, arg interface{}) (interface{}, error) {
		return arg, nil
	})
	_, err := multipipes.NewTask(multipipes.TaskConfig{Target: target, Indata: in, Timeout: time.Second})
	c.Assert(err, gc.ErrorMatches, ".*does not accept a timeout tick.*")
}

func (s *TaskTestSuite) TestTimeoutTickInvokesTargetWithNils(c *gc.C) {
	in := multipipes.NewChannel(1)
	out := multipipes.NewChannel(1)

	target := multipipes.TimeoutFunc1(func(ctx context.Context, arg interface{}, isTimeoutTick bool) (interface{}, error) {
		if isTimeoutTick {
			return "TIMEOUT", nil
		}
		return arg.(int) + 1, nil
	})
	task, err := multipipes.NewTask(multipipes.TaskConfig{
		Target:         target,
		Indata:         in,
		Outdata:        out,
		Timeout:        30 * time.Millisecond,
		PollingTimeout: 10 * time.Millisecond,
	})
	c.Assert(err, gc.IsNil)

	c.Assert(task.Step(context.Background()), gc.IsNil)
	got, err := out.Get(time.Second)
	c.Assert(err, gc.IsNil)
	c.Assert(got, gc.Equals, "TIMEOUT")
}
