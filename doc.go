// Package multipipes provides multi-stage data-processing pipelines whose
// stages run concurrently across pools of goroutines.
//
// A Pipeline is an ordered composition of Nodes (pool of Workers sharing a
// target function) and optional explicit Channels, wired into a connected
// graph of bounded FIFOs. Each Worker runs a Task: pull an item, invoke the
// target, push the result, repeat — until a matching PoisonPill, an
// external stop request, or the Task's request quota retires it. A Manager
// supervises the pool: it receives lifecycle events (max_requests,
// exception) and applies restart policy.
//
//	divide := multipipes.FuncN(2, func(ctx context.Context, args []interface{}) (interface{}, error) {
//		return args[0].(int) / args[1].(int), nil
//	})
//	inc := multipipes.Func1(func(ctx context.Context, arg interface{}) (interface{}, error) {
//		return arg.(int) + 1, nil
//	})
//
//	divNode, _ := multipipes.NewNode(multipipes.NodeConfig{Name: "divide", Target: divide})
//	incNode, _ := multipipes.NewNode(multipipes.NodeConfig{Name: "inc", Target: inc})
//
//	p, _ := multipipes.New([]interface{}{divNode, incNode}, nil, "demo")
//	in, out := multipipes.NewChannel(16), multipipes.NewChannel(16)
//	p.Setup(in, out)
//	p.Start(context.Background())
//
//	in.Put(multipipes.Sequence{4, 2}, 0) // a Sequence is unpacked into divide's two arguments
//	v, _ := out.Get(time.Second)         // v == 3
package multipipes
