package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kanekikun07/shiny-bassoon/internal/upstream"
)

func testUpstreams(t *testing.T, entries ...string) []upstream.Proxy {
	t.Helper()

	out := make([]upstream.Proxy, 0, len(entries))
	for _, e := range entries {
		p, err := upstream.Parse(e)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, p)
	}
	return out
}

func TestGenerateBindsIndex(t *testing.T) {
	t.Parallel()

	ups := testUpstreams(t, "http://p1:8080", "http://p2:8080", "http://p3:8080", "http://p4:9090")
	tbl := Generate(ups)

	if tbl.Len() != len(ups) {
		t.Fatalf("got %d credentials want %d", tbl.Len(), len(ups))
	}

	seen := make(map[string]bool)
	for i, c := range tbl.Credentials() {
		if c.UpstreamIndex != i {
			t.Fatalf("credential %d bound to index %d", i, c.UpstreamIndex)
		}
		if seen[c.Username] {
			t.Fatalf("duplicate username %q", c.Username)
		}
		seen[c.Username] = true
	}
}

func TestGenerateFilteredList(t *testing.T) {
	t.Parallel()

	ups := testUpstreams(t, "http://p1:8080", "http://p4:9090")
	tbl := Generate(ups)

	tests := []struct {
		user, pass string
		addr       string
	}{
		{"user1", "pass1", "p1:8080"},
		{"user2", "pass2", "p4:9090"},
	}
	for _, tt := range tests {
		c, ok := tbl.Lookup(tt.user)
		if !ok {
			t.Fatalf("missing %s", tt.user)
		}
		if c.Password != tt.pass {
			t.Fatalf("%s: got password %q", tt.user, c.Password)
		}
		if got := ups[c.UpstreamIndex].Addr(); got != tt.addr {
			t.Fatalf("%s: bound to %s want %s", tt.user, got, tt.addr)
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	t.Parallel()

	ups := testUpstreams(t, "http://a:1", "http://b:2", "http://c:3")
	a := Generate(ups)
	b := Generate(ups)
	if !reflect.DeepEqual(a.Credentials(), b.Credentials()) {
		t.Fatal("generation is not deterministic")
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	tbl := Generate(testUpstreams(t, "http://p1:8080", "http://p4:9090"))

	for _, c := range tbl.Credentials() {
		if !tbl.Verify(c.Username, c.Password) {
			t.Fatalf("%s: generated password rejected", c.Username)
		}
		for _, bad := range []string{"", c.Password + "x", "pass0", "PASS1"} {
			if tbl.Verify(c.Username, bad) {
				t.Fatalf("%s: accepted password %q", c.Username, bad)
			}
		}
	}

	if tbl.Verify("user3", "pass3") {
		t.Fatal("unknown user accepted")
	}
	if _, ok := tbl.Lookup("nobody"); ok {
		t.Fatal("unknown user found")
	}
}

func TestSheet(t *testing.T) {
	t.Parallel()

	ups := testUpstreams(t, "http://p1:8080", "http://p4:9090")
	got := Sheet(Generate(ups), ups)
	want := []string{
		"http://user1:pass1@p1:8080",
		"http://user2:pass2@p4:9090",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFileSheet(t *testing.T) {
	t.Parallel()

	s := FileSheet{Path: filepath.Join(t.TempDir(), "user_proxies.txt")}

	if _, err := s.ReadSheet(); !errors.Is(err, ErrSheetNotFound) {
		t.Fatalf("expected ErrSheetNotFound, got %v", err)
	}

	if err := s.Write([]string{"http://user1:pass1@p1:8080", "http://user2:pass2@p4:9090"}); err != nil {
		t.Fatal(err)
	}
	b, err := s.ReadSheet()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "http://user1:pass1@p1:8080\nhttp://user2:pass2@p4:9090" {
		t.Fatalf("unexpected sheet %q", b)
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %d entries", len(entries))
	}
}

func TestFileSheetRemove(t *testing.T) {
	t.Parallel()

	s := FileSheet{Path: filepath.Join(t.TempDir(), "user_proxies.txt")}

	if err := s.Remove(); err != nil {
		t.Fatalf("removing a missing sheet: %v", err)
	}
	if err := s.Write([]string{"http://user1:pass1@p1:8080"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadSheet(); !errors.Is(err, ErrSheetNotFound) {
		t.Fatalf("expected ErrSheetNotFound, got %v", err)
	}
}
