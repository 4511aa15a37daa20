// Package bootstrap seeds the permission matrix into its store.
//
// A Bootstrapper runs at most one initialization at a time: concurrent
// callers of Initialize or AutoInitialize share the in-flight run and all
// observe its result. Once the run completes, later calls start a fresh
// one, so a failed initialization can be retried.
//
// Failed initialization is reported through Ready and LastError. The
// Policy tells the host what to do about it: fail-open (the default)
// keeps serving without enforced permissions, fail-closed refuses guarded
// requests.
//
//	b := bootstrap.New(store, registry, nil,
//		bootstrap.WithPurger(cachedStore),
//		bootstrap.WithPolicy(bootstrap.PolicyFailClosed),
//	)
//	if !b.AutoInitialize(ctx, false) && !b.FailOpen() {
//		log.Fatal("permission matrix unavailable")
//	}
package bootstrap
