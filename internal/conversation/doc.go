// Package conversation holds the per-session conversational state for the
// concierge assistant: the context snapshot accumulated across a visitor's
// session, the lead-qualification stage machine, and the TTL-bounded
// context store that persists snapshots between stateless HTTP requests.
//
// Two store backends are provided. MemoryStore is a mutex-guarded map with
// lazy TTL eviction, suitable for a single process. BadgerStore persists
// snapshots in an embedded Badger database using its native entry TTL,
// keeping the same Get/Put/Update/Delete contract so call sites are
// unaffected by the backend choice.
//
// Thread safety: both stores are safe for concurrent use. Snapshots
// returned by Get are copies; mutating them does not affect stored state
// until written back through Put or Update.
package conversation
