// Package usage accounts per-user traffic: a concurrent-safe Ledger of
// cumulative counters and the Event/Sink pair that carries one traffic record
// per terminated session to logs and metrics.
package usage
