// Package readiness decides when a dynamically loaded page has settled
// enough that its rendered HTML can be captured.
//
// The detector never renders, navigates or mutates anything itself. It
// repeatedly runs a read-only probe against a PageResource and reads back
// a coarse status tag. When the probe reports ready, or the wait budget is
// spent, or the resource goes away, it serializes the resource once and
// hands the content to a CaptureSink.
//
// # Session Lifecycle
//
// Each detection runs as a Session with the states below:
//
//  1. Idle: created by NewSession, nothing issued yet
//  2. Polling: Start was called; queries and delay timers alternate
//  3. Finalized: ready, deadline or unrecoverable error; the sink fired once
//  4. Cancelled: Cancel was called before finalization; the sink never fires
//
// A session runs on a single goroutine. It blocks only while it waits for
// a query response or for the delay timer, so one session's attempts are
// strictly sequential. Sessions share no state and can run side by side.
//
// # Backoff
//
// The wait before attempt n+1 is min(BaseDelay*n, CapDelay). It grows
// linearly and depends only on the attempt number (see LinearBackOff).
//
// # Example Usage
//
//	detector := readiness.NewDetector(readiness.WithLogger(logger))
//	sess, err := detector.StartDetection(ctx, resource, readiness.DefaultOptions(),
//	    readiness.SinkFunc(func(content string, reason readiness.Reason) {
//	        // persist content
//	    }))
//	if err != nil {
//	    return err
//	}
//	outcome, err := sess.Wait(ctx)
package readiness
