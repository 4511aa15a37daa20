// Package apperr defines the error taxonomy shared by the permission and
// verification engines.
//
// Every typed error matches a package sentinel through errors.Is, so callers
// can branch on the kind without caring about the concrete type:
//
//	v, err := engine.Verify(ctx, id, verifier, "")
//	switch {
//	case errors.Is(err, apperr.ErrInvalidState):
//	    // already decided
//	case errors.Is(err, apperr.ErrNotFound):
//	    // unknown id
//	}
//
// StorageError additionally unwraps to the driver error that caused it.
package apperr
