// Package cli provides the pinakactl command-line interface.
//
// # Overview
//
// pinakactl manages the permission matrix and drives verification
// workflows. Database commands connect directly; workflow commands call a
// running server.
//
// # Commands
//
// migrate: Apply schema migrations
//
//	pinakactl migrate -storage postgres -dsn postgres://localhost/pinaka
//
// seed: Seed roles and permissions, optionally from a custom matrix
//
//	pinakactl seed -dsn postgres://localhost/pinaka -matrix ./matrix.yaml -force
//
// evaluate: Decide a permission on a server, or locally with -local
//
//	pinakactl evaluate -local -roles PMC_ADMIN -category FINANCIAL \
//		-resource expenses -action CREATE -values amount=750
//
// validate-matrix, export-matrix: Check or print a matrix document
//
//	pinakactl validate-matrix -file ./matrix.yaml
//	pinakactl export-matrix > matrix.yaml
//
// list-verifications, verify, reject, history: Drive the approval workflow
//
//	pinakactl list-verifications -status PENDING -assignee pmc-1
//	pinakactl verify -id 7f9c... -user pmc-1 -role-header PMC_ADMIN -notes "documents match"
//	pinakactl reject -id 7f9c... -user pmc-1 -reason "deed is unsigned"
//	pinakactl history -id 7f9c...
//
// # Environment
//
// PINAKA_SERVER, PINAKA_USER_ID and PINAKA_ROLE set the server flags.
// PINAKA_STORAGE_TYPE, PINAKA_POSTGRES_URL and PINAKA_SQLITE_PATH set the
// database flags.
package cli
