// Package observability configures OpenTelemetry tracing for relay sessions.
package observability
