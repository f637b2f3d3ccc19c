package integration

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/profz"
)

type layer func(ctx context.Context) error

// TestContextCarriesTransactionThroughLayers verifies spans opened from
// unrelated functions that only share ctx land in one tree.
func TestContextCarriesTransactionThroughLayers(t *testing.T) {
	h := NewHarness(t)

	repo := func(ctx context.Context) error {
		return profz.Run(ctx, "repo.find", func() error {
			h.Clock.Advance(3 * time.Millisecond)
			return nil
		})
	}
	service := func(next layer) layer {
		return func(ctx context.Context) error {
			return profz.Run(ctx, "service.get", func() error { return next(ctx) })
		}
	}
	handler := func(next layer) layer {
		return func(ctx context.Context) error {
			return profz.Run(ctx, "handler", func() error { return next(ctx) })
		}
	}

	report := h.Transaction(t, "GET /item", func(ctx context.Context) {
		if err := handler(service(repo))(ctx); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	})

	Expect(t, report.Tree, "handler", "service.get", "repo.find").Time(3).Count(1)
	Expect(t, report.Tree, "handler").Time(3).Children("service.get")
}

// TestContextWithoutTransaction verifies instrumentation is inert when no
// transaction is in flight.
func TestContextWithoutTransaction(t *testing.T) {
	ctx := context.Background()

	called := false
	err := profz.Run(ctx, "orphan", func() error {
		called = true
		profz.Enter(ctx, "inner").Exit()
		profz.Callback(ctx).Exit()
		profz.Resume(ctx, nil).Suspend()
		return nil
	})
	if err != nil || !called {
		t.Errorf("Expected fn to run without a transaction, err=%v", err)
	}
}

// TestLateSpansAfterFinish verifies a goroutine that outlives its request
// cannot touch the finished transaction.
func TestLateSpansAfterFinish(t *testing.T) {
	h := NewHarness(t)

	var late *profz.SyncSpan
	var lateCtx context.Context
	report := h.Transaction(t, "req", func(ctx context.Context) {
		lateCtx = ctx
		late = profz.Enter(ctx, "background")
		h.Clock.Advance(time.Millisecond)
	})
	Expect(t, report.Tree, "background").Time(1)

	late.Exit()
	if span := profz.Enter(lateCtx, "after"); span != nil {
		t.Error("Expected no span on a finished transaction")
	}

	tx := profz.FromContext(lateCtx)
	if len(tx.Root().Children()) != 0 {
		t.Error("Expected finished transaction to stay empty")
	}
}

// TestDisabledProfilerPassesContextThrough verifies a disabled profiler
// leaves requests uninstrumented.
func TestDisabledProfilerPassesContextThrough(t *testing.T) {
	h := NewHarness(t)
	h.Profiler.SetEnabled(false)

	ctx, tx := h.Profiler.Begin(context.Background(), "req")
	if tx != nil || profz.FromContext(ctx) != nil {
		t.Fatal("Expected no transaction while disabled")
	}
	h.Work(ctx, "work", time.Millisecond)

	if _, err := h.Profiler.Finish(tx); err == nil {
		t.Error("Expected error finishing a nil transaction")
	}
	h.Collector.AssertReportCount(0)
}
