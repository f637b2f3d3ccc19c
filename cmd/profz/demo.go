package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/zoobzio/profz"
)

// jitter sleeps for base plus up to half of base.
func jitter(base time.Duration) {
	time.Sleep(base + time.Duration(rand.Int63n(int64(base/2)+1)))
}

// runDemoRequest profiles one synthetic request: nested sync spans, a
// fetch that is suspended and resumed twice, and a callback whose time
// is excluded from its caller.
func runDemoRequest(ctx context.Context, profiler *profz.Profiler, i int) (profz.Report, error) {
	ctx, tx := profiler.Begin(ctx, fmt.Sprintf("demo-%d", i))

	err := profz.Run(ctx, "handler.users", func() error {
		_ = profz.Run(ctx, "db.select", func() error {
			jitter(2 * time.Millisecond)
			return nil
		})

		fetch := profz.Enter(ctx, "http.fetch")
		jitter(time.Millisecond)
		node := fetch.Node()
		fetch.Exit()

		// Work interleaved while the fetch is pending.
		_ = profz.Run(ctx, "cache.get", func() error {
			jitter(time.Millisecond)
			return nil
		})

		for range 2 {
			continuation := profz.Resume(ctx, node)
			jitter(time.Millisecond)
			continuation.Suspend()
			time.Sleep(time.Millisecond)
		}

		render := profz.Enter(ctx, "render")
		jitter(time.Millisecond)
		cb := profz.Callback(ctx)
		time.Sleep(3 * time.Millisecond)
		cb.Exit()
		render.Exit()
		return nil
	})
	if err != nil {
		return profz.Report{}, err
	}
	if tx == nil {
		return profz.Report{Name: fmt.Sprintf("demo-%d", i), Tree: []profz.Entry{}}, nil
	}
	return profiler.Finish(tx)
}
