// Package postgres manages the PostgreSQL primary and read-replica pools
// and the Redis client shared by the permission cache and health probes.
//
// Writes always go to Primary. Replica round-robins across healthy
// replicas and falls back to the primary when none are configured.
// StartHealthCheckRoutine prunes replicas that stop answering pings.
package postgres
