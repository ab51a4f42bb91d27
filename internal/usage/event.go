package usage

import (
	"context"
	"time"
)

// Event types.
const (
	TypeHTTP  = "http_traffic"
	TypeSOCKS = "socks_traffic"
)

// Event describes one terminated session.
type Event struct {
	Type          string
	User          string
	Target        string // request URL for HTTP, host:port for SOCKS
	BytesSent     int64
	BytesReceived int64
	Timestamp     time.Time
}

// Sink receives one Event per terminated session.
type Sink interface {
	RecordTraffic(ctx context.Context, ev Event)
}

// Sinks fans an event out to several sinks.
type Sinks []Sink

func (s Sinks) RecordTraffic(ctx context.Context, ev Event) {
	for _, sink := range s {
		if sink != nil {
			sink.RecordTraffic(ctx, ev)
		}
	}
}
