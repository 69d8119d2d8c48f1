// Package sessionstore defines the session lifecycle contract: creating,
// looking up, updating, expiring, and revoking authentication sessions
// behind one [Store] interface with three interchangeable backends.
//
// # Backends
//
//   - memstore: in-process maps, the reference and development backend.
//   - gormstore: relational rows via gorm; expiry filtering and bulk sweep
//     pushed into SQL.
//   - redistore: Redis hashes with native per-key TTL plus a per-user
//     index set.
//
// Each backend lives in its own package so importing one never compiles
// another backend's driver. Selection happens at construction and is
// invisible to callers afterward.
//
// # Expiration
//
// Two complementary mechanisms. Lazy expiry runs on every read path in
// every backend and is the correctness backstop: an expired record is
// deleted at the moment it is read and reported as absent. Bulk cleanup is
// either an explicit sweep ([Store.DeleteExpired], driven externally or by
// the optional [Sweeper]) or the cache backend's native TTL, which is
// best-effort cleanup only and never load-bearing.
//
// # Architecture boundaries
//
// This module stores sessions; it does not mint them. Token signing,
// password hashing, MFA challenges, and HTTP delivery are external
// collaborators that call in through the [Store] contract only.
package sessionstore
