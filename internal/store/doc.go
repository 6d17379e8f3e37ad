// Package store provides the durable cache behind the crank pipeline.
//
// The cache holds two kinds of records:
//   - Process pointers: the latest sequenced tx per process
//   - Message records: status, tx and outbox per message id
//
// plus a pin table mapping processes to compute nodes.
//
// # Invariants
//
// Monotonic pointers: SaveTx never replaces a stored pointer with one of
// a lower sequence number. The attempt fails with a *ConflictError and
// the caller re-reads.
//
// Frozen terminal records: once a message record is executed or failed,
// later writes for that id are no-ops. Re-delivery is therefore safe at
// every layer.
//
// Retry safety: every write may be repeated with the same arguments and
// leaves the same end state.
//
// # Backends
//
//   - Store: SQLite in WAL mode with a single writer connection
//   - RedisStore: Redis with optimistic WATCH/MULTI transactions
//
// OpenCache picks the backend from a cache name.
package store
