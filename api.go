// Package profz provides a lightweight in-process call-tree profiler.
//
// profz records how long named operations take inside one logical unit of
// work (a transaction) and arranges them in a call tree. It keeps correct
// wall-clock attribution when operations are suspended and resumed
// cooperatively, and when a framework callback runs between suspension
// points and must not be charged to the operation being resumed.
//
// Core Components:
//   - Node: one named operation in the tree (count, time, children).
//   - Transaction: the tree plus the current position for one task.
//   - SyncSpan, AsyncSpan, CallbackSpan: scoped controllers that move the
//     current position and drive Node timing.
//   - Aggregator: turns a finished tree into a sorted report and a
//     flattened per-name roll-up.
//   - Profiler: creates transactions and fans finished reports out to
//     handlers and collectors.
//
// Basic Usage:
//
//	profiler := profz.New()
//	defer profiler.Close()
//
//	ctx, tx := profiler.Begin(ctx, "GET /users")
//
//	span := profz.Enter(ctx, "db.query")
//	rows := query()
//	span.Exit()
//
//	report, err := profiler.Finish(tx)
//
// Suspend/Resume:
//
// An asynchronous operation is opened once with Enter and closed with Exit
// when its synchronous part returns. Each later continuation is bracketed
// with Resume/Suspend on the same Node. Count only grows on Enter; Time is
// the sum of every running interval.
//
//	span := tx.Enter("fetch")
//	node := span.Node()
//	span.Exit()
//
//	// later, when the continuation runs
//	a := tx.Resume(node)
//	defer a.Suspend()
//
// Callback exclusion:
//
// Code that dispatches a callback back into a suspended operation is
// bracketed with Callback/Exit. The currently open node is stopped for the
// duration, so callback dispatch time is charged to nobody.
//
// Thread Safety:
//
// A Transaction is owned by one logical task and is NOT safe for
// concurrent use. Run one Transaction per request or goroutine and pass it
// through context.Context. Profiler, Aggregator and Collector are safe for
// concurrent use.
//
// Disabled Mode:
//
// Every controller accepts a nil or inactive Transaction and does nothing,
// so instrumentation can stay in hot paths. Profiler.SetEnabled(false)
// makes Begin hand out nil transactions.
package profz

// Key represents an operation name.
type Key = string

// Category labels a node after classification.
type Category = string
