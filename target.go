package multipipes

import "context"

// Target is the typed adapter a Task invokes once per pulled item. Unlike
// the source, which inspects a Python callable's signature at runtime to
// decide argument count and timeout acceptance, a Target declares both
// up front — per SPEC_FULL.md's "Target signature inspection" design note,
// this implementation does not attempt to reconstruct that reflection.
type Target interface {
	// ParamsCount returns the number of positional arguments the target
	// expects. A Task uses this to size the all-nil argument slice it
	// builds for a timeout tick invocation.
	ParamsCount() int

	// AcceptsTimeout reports whether the target is willing to be invoked
	// with isTimeoutTick=true when a pull times out with no item.
	AcceptsTimeout() bool

	// Invoke calls the wrapped function. args holds the pulled item as
	// positional arguments (see Task.unpackArgs) and is nil for a source
	// stage; its length is not checked against ParamsCount(). isTimeoutTick
	// is true only when args is an all-nil placeholder of length
	// ParamsCount() produced because the pull deadline elapsed with nothing
	// available.
	Invoke(ctx context.Context, args []interface{}, isTimeoutTick bool) (interface{}, error)
}

// targetFunc adapts a plain Go function, its declared arity, and its
// timeout-acceptance to the Target interface. It is the general-purpose
// adapter; Func0/Func1/FuncN and TimeoutFuncN below exist only for
// ergonomics over common arities.
type targetFunc struct {
	params  int
	timeout bool
	fn      func(ctx context.Context, args []interface{}, isTimeoutTick bool) (interface{}, error)
}

func (t *targetFunc) ParamsCount() int      { return t.params }
func (t *targetFunc) AcceptsTimeout() bool  { return t.timeout }
func (t *targetFunc) Invoke(ctx context.Context, args []interface{}, isTimeoutTick bool) (interface{}, error) {
	return t.fn(ctx, args, isTimeoutTick)
}

// NewTarget builds a Target of the given arity from fn. If acceptsTimeout is
// true, the Task may invoke fn with an all-nil args slice and
// isTimeoutTick=true when a pull deadline elapses without an item.
func NewTarget(params int, acceptsTimeout bool, fn func(ctx context.Context, args []interface{}, isTimeoutTick bool) (interface{}, error)) Target {
	return &targetFunc{params: params, timeout: acceptsTimeout, fn: fn}
}

// Func0 adapts a zero-argument function (typically a source stage's target)
// into a Target that never accepts a timeout tick.
func Func0(fn func(ctx context.Context) (interface{}, error)) Target {
	return NewTarget(0, false, func(ctx context.Context, _ []interface{}, _ bool) (interface{}, error) {
		return fn(ctx)
	})
}

// Func1 adapts a single-argument function into a Target that never accepts
// a timeout tick.
func Func1(fn func(ctx context.Context, arg interface{}) (interface{}, error)) Target {
	return NewTarget(1, false, func(ctx context.Context, args []interface{}, _ bool) (interface{}, error) {
		return fn(ctx, args[0])
	})
}

// FuncN adapts a variadic-style function operating on an argument slice of
// fixed length params into a Target that never accepts a timeout tick.
func FuncN(params int, fn func(ctx context.Context, args []interface{}) (interface{}, error)) Target {
	return NewTarget(params, false, func(ctx context.Context, args []interface{}, _ bool) (interface{}, error) {
		return fn(ctx, args)
	})
}

// TimeoutFunc1 adapts a single-argument function that also wants to observe
// timeout ticks (arg is nil and isTimeoutTick is true when a pull deadline
// elapsed with nothing available) into a Target.
func TimeoutFunc1(fn func(ctx context.Context, arg interface{}, isTimeoutTick bool) (interface{}, error)) Target {
	return NewTarget(1, true, func(ctx context.Context, args []interface{}, isTimeoutTick bool) (interface{}, error) {
		return fn(ctx, args[0], isTimeoutTick)
	})
}

// TimeoutFuncN adapts a function of fixed arity params that also wants to
// observe timeout ticks into a Target.
func TimeoutFuncN(params int, fn func(ctx context.Context, args []interface{}, isTimeoutTick bool) (interface{}, error)) Target {
	return NewTarget(params, true, fn)
}
