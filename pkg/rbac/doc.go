// Package rbac implements the Pinaka permission matrix.
//
// The matrix maps (role, category, resource, action) cells to grants. A
// grant may carry conditions that narrow it:
//
//   - ownOnly: the requester must own the target
//   - scopeRestriction: the target's unit, property, portfolio or
//     organization must be in the requester's granted set
//   - timeWindow / timeZone: the request must fall inside "HH:MM-HH:MM"
//   - requiresApproval / approvalTimeout: the action goes through the
//     verification workflow instead of executing directly
//   - threshold / thresholdField / thresholdLimit: amounts below the limit
//     are allowed, the rest require approval
//
// Condition keys the evaluator does not know are kept as data.
//
// # Evaluation
//
// Evaluator.Evaluate looks up the grants of one cell. No grant is DENY. An
// unconditioned grant is ALLOW regardless of any conditioned grant next to
// it. Otherwise each conditioned grant is decided on its own and the
// results combine: any ALLOW wins, then REQUIRES_APPROVAL, then DENY.
// EvaluatePrincipal pools the grants of every role a principal holds.
//
//	store := rbac.NewCachedStore(rbac.NewSQLStore(db), rbac.NewLRUCache(4096, 5*time.Minute), logger, metrics)
//	eval := rbac.NewEvaluator(store, rbac.WithThresholds(map[string]float64{"bigExpense": 2500}))
//
//	d, err := eval.Evaluate(ctx, rbac.RolePropertyManager, rbac.CategoryFinancial, "expenses", rbac.ActionCreate,
//		rbac.EvalContext{Values: map[string]float64{"amount": 180}})
//
// # Storage
//
// SQLStore runs on PostgreSQL and SQLite. MemoryStore backs tests and
// single-process tools. CachedStore adds a read-through LRU or Redis cache
// that is invalidated on every upsert and purged after a reseed.
//
// The default matrix is embedded from matrix.yaml. Operators can supply
// their own document through LoadMatrixFile.
package rbac
