// Package httputil provides HTTP helpers shared by the Pinaka handlers:
// JSON responses, classified error responses, request parsing and a small
// middleware chain.
//
// Handlers return domain errors and let WriteAppError pick the status:
//
//	v, err := engine.Verify(ctx, id, actor, notes)
//	if err != nil {
//		httputil.WriteAppError(w, err)
//		return
//	}
//	httputil.WriteSuccess(w, v)
//
// Validation errors map to 400, not found to 404, duplicates and invalid
// state transitions to 409, storage failures to 503 and everything else
// to 500.
package httputil
