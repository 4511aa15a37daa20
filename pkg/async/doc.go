// Package async runs background work off the caller's goroutine with panic
// recovery, a per-task timeout and logrus error reporting.
//
//	async.SafeGo(ctx, logger, 30*time.Second, "transition listener", func(ctx context.Context) error {
//		return notify(ctx, event)
//	})
//
// The parent context's values are kept. Callers that must not inherit its
// cancellation pass context.WithoutCancel(ctx).
package async
