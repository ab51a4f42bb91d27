package upstream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
)

// ErrNoUpstreams is returned when a source yields no usable upstream proxy.
var ErrNoUpstreams = errors.New("no usable upstream proxies")

const defaultPort = "80"

// Proxy is an unauthenticated HTTP proxy that sessions are tunneled through.
type Proxy struct {
	Scheme string
	Host   string
	Port   string
}

// Addr returns the host:port used to reach the proxy.
func (p Proxy) Addr() string {
	return net.JoinHostPort(p.Host, p.Port)
}

// URL returns the proxy as a scheme://host:port URL.
func (p Proxy) URL() *url.URL {
	return &url.URL{Scheme: p.Scheme, Host: p.Addr()}
}

func (p Proxy) String() string {
	return p.URL().String()
}

// Rejected describes a source line that was skipped while loading.
type Rejected struct {
	Line   int
	Entry  string
	Reason string
}

// Parse parses a single upstream entry.
//
// Only plain http:// proxies are accepted. A bare host:port is read as
// http://host:port, and a missing port defaults to 80.
func Parse(entry string) (Proxy, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return Proxy{}, errors.New("empty entry")
	}
	if !strings.Contains(entry, "://") {
		entry = "http://" + entry
	}

	u, err := url.Parse(entry)
	if err != nil {
		return Proxy{}, fmt.Errorf("invalid url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" {
		return Proxy{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.User != nil {
		return Proxy{}, errors.New("authenticated upstreams are not supported")
	}
	if u.Path != "" && u.Path != "/" {
		return Proxy{}, errors.New("path should be empty")
	}

	host := u.Hostname()
	if host == "" {
		return Proxy{}, errors.New("missing host")
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}

	return Proxy{Scheme: scheme, Host: host, Port: port}, nil
}

// ParseList reads a newline-delimited list of upstream proxy URLs.
//
// Blank lines are ignored and unusable entries are returned as rejections
// rather than failing the whole list. The order of accepted entries is
// preserved, since a proxy's index is its identity.
func ParseList(r io.Reader) ([]Proxy, []Rejected, error) {
	var (
		proxies  []Proxy
		rejected []Rejected
	)

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		entry := strings.TrimSpace(sc.Text())
		if entry == "" {
			continue
		}
		p, err := Parse(entry)
		if err != nil {
			rejected = append(rejected, Rejected{Line: line, Entry: entry, Reason: err.Error()})
			continue
		}
		proxies = append(proxies, p)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read upstream list: %w", err)
	}

	if len(proxies) == 0 {
		return nil, rejected, ErrNoUpstreams
	}
	return proxies, rejected, nil
}

// Load reads the upstream list at path.
func Load(path string) ([]Proxy, []Rejected, error) {
	f, err := os.Open(path) //nolint:gosec // Path is from operator config.
	if err != nil {
		return nil, nil, fmt.Errorf("open upstream list: %w", err)
	}
	defer f.Close()

	proxies, rejected, err := ParseList(f)
	if err != nil {
		return nil, rejected, fmt.Errorf("%s: %w", path, err)
	}
	return proxies, rejected, nil
}
