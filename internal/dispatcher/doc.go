// Package dispatcher coordinates Multigate's item traffic.
//
// One goroutine sits between the host-facing boundary and the per-device
// sessions. Everything flows through it, which keeps the binding registry
// lookups, the in-flight read set and the fan-out free of locks.
//
// Architecture:
//
//	host boundary ──ItemChanged/ItemRead/ReadAll──▶ event queue ─┐
//	sessions ──────Result channel───────────────────────────────┼──▶ run loop
//	ticker ────────cycle tick───────────────────────────────────┘      │
//	                                                                   ▼
//	                                   sessions ◀── SubmitRead/SubmitWrite
//	                                   Emitter ◀─── item values, availability
//
// # Coalescing
//
// Reads are deduplicated per (device, command): while one is in flight,
// further requests for the same pair are dropped. Read-all and startup
// bursts therefore issue each command at most once, and a due cyclic read
// shares an outstanding on-demand read of its command rather than opening
// a second device transaction.
//
// # Fan-out
//
// A successful read, solicited or not, is delivered to every binding with
// read interest in the (device, command) pair. Link transitions surface as
// availability events; failed and timed-out requests surface as per-item
// error indicators, never retried (retry policy belongs to the host).
package dispatcher
