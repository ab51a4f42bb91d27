// Package metrics exposes Prometheus collectors for relay sessions, traffic
// and failures.
package metrics
