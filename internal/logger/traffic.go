package logger

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/kanekikun07/shiny-bassoon/internal/usage"
)

// trafficRecord is the JSON shape of one traffic log line. HTTP sessions
// carry the request URL, SOCKS sessions the destination.
type trafficRecord struct {
	Type          string `json:"type"`
	User          string `json:"user"`
	URL           string `json:"url,omitempty"`
	Destination   string `json:"destination,omitempty"`
	BytesSent     int64  `json:"bytesSent"`
	BytesReceived int64  `json:"bytesReceived"`
	Timestamp     string `json:"timestamp"`
}

// TrafficLog writes one JSON line per terminated session.
type TrafficLog struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewTrafficLog returns a TrafficLog writing to w.
func NewTrafficLog(w io.Writer) *TrafficLog {
	return &TrafficLog{enc: json.NewEncoder(w)}
}

// RecordTraffic implements usage.Sink.
func (t *TrafficLog) RecordTraffic(_ context.Context, ev usage.Event) {
	if t == nil {
		return
	}
	rec := trafficRecord{
		Type:          ev.Type,
		User:          ev.User,
		BytesSent:     ev.BytesSent,
		BytesReceived: ev.BytesReceived,
		Timestamp:     ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if ev.Type == usage.TypeHTTP {
		rec.URL = ev.Target
	} else {
		rec.Destination = ev.Target
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.enc.Encode(rec)
}
