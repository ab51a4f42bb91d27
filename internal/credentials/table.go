package credentials

import (
	"crypto/subtle"
	"strconv"

	"github.com/kanekikun07/shiny-bassoon/internal/upstream"
)

// Credential binds a generated username and password to one upstream proxy.
type Credential struct {
	Username      string
	Password      string
	UpstreamIndex int
}

// Table holds the credentials generated at startup. It is never modified
// after Generate returns, so it is safe for concurrent readers.
type Table struct {
	ordered []Credential
	byUser  map[string]int
}

// Generate creates one credential per upstream, in order: the upstream at
// index i gets user<i+1>/pass<i+1>.
func Generate(upstreams []upstream.Proxy) *Table {
	t := &Table{
		ordered: make([]Credential, len(upstreams)),
		byUser:  make(map[string]int, len(upstreams)),
	}
	for i := range upstreams {
		n := strconv.Itoa(i + 1)
		c := Credential{
			Username:      "user" + n,
			Password:      "pass" + n,
			UpstreamIndex: i,
		}
		t.ordered[i] = c
		t.byUser[c.Username] = i
	}
	return t
}

// Lookup returns the credential for username.
func (t *Table) Lookup(username string) (Credential, bool) {
	i, ok := t.byUser[username]
	if !ok {
		return Credential{}, false
	}
	return t.ordered[i], true
}

// Verify reports whether password is the password generated for username.
func (t *Table) Verify(username, password string) bool {
	c, ok := t.Lookup(username)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Password), []byte(password)) == 1
}

// Credentials returns a copy of all credentials in generation order.
func (t *Table) Credentials() []Credential {
	out := make([]Credential, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// Len returns the number of credentials.
func (t *Table) Len() int {
	return len(t.ordered)
}
