package usage

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Record is a snapshot of one user's cumulative usage.
type Record struct {
	BytesSent     int64 `json:"bytesSent"`
	BytesReceived int64 `json:"bytesReceived"`
	Requests      int64 `json:"requests"`
}

type counters struct {
	sent     atomic.Int64
	received atomic.Int64
	requests atomic.Int64
}

// Ledger accumulates per-user byte and request counts. It is safe for
// concurrent use; the lock only guards the user map, never I/O.
type Ledger struct {
	mu    sync.RWMutex
	users map[string]*counters
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{users: make(map[string]*counters)}
}

func (l *Ledger) counters(user string) *counters {
	l.mu.RLock()
	c, ok := l.users[user]
	l.mu.RUnlock()
	if ok {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.users[user]; ok {
		return c
	}
	c = &counters{}
	l.users[user] = c
	return c
}

// Add records one finished session for user.
func (l *Ledger) Add(user string, sent, received int64) {
	c := l.counters(user)
	c.sent.Add(sent)
	c.received.Add(received)
	c.requests.Add(1)
}

// Get returns the usage recorded for user.
func (l *Ledger) Get(user string) (Record, bool) {
	l.mu.RLock()
	c, ok := l.users[user]
	l.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	return c.record(), true
}

// Snapshot returns the usage of every user seen so far.
func (l *Ledger) Snapshot() map[string]Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Record, len(l.users))
	for user, c := range l.users {
		out[user] = c.record()
	}
	return out
}

// Users returns the users with recorded usage, sorted.
func (l *Ledger) Users() []string {
	l.mu.RLock()
	users := make([]string, 0, len(l.users))
	for user := range l.users {
		users = append(users, user)
	}
	l.mu.RUnlock()

	sort.Strings(users)
	return users
}

func (c *counters) record() Record {
	return Record{
		BytesSent:     c.sent.Load(),
		BytesReceived: c.received.Load(),
		Requests:      c.requests.Load(),
	}
}
