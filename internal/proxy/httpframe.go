package proxy

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// MaxRequestHeadBytes bounds a client's request line plus headers.
const MaxRequestHeadBytes = 64 << 10

// requestHead is a parsed client request head together with the exact bytes
// it was read from.
type requestHead struct {
	req *http.Request
	raw []byte
}

// readRequestHead reads one request head (request line, header lines and the
// blank line) from br. Lines may end in CRLF or LF. Nothing past the blank
// line is consumed, so a request body stays buffered in br.
//
// A client that closes before sending anything yields io.EOF. Malformed or
// oversized heads yield ErrProtocol.
func readRequestHead(br *bufio.Reader) (*requestHead, error) {
	var raw []byte
	lineStart := 0
	for {
		chunk, err := br.ReadSlice('\n')
		raw = append(raw, chunk...)
		if len(raw) > MaxRequestHeadBytes {
			return nil, fmt.Errorf("%w: request head exceeds %d bytes", ErrProtocol, MaxRequestHeadBytes)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(raw) == 0 {
					return nil, io.EOF
				}
				return nil, fmt.Errorf("%w: truncated request head", ErrProtocol)
			}
			return nil, err
		}

		line := raw[lineStart:]
		if len(bytes.TrimRight(line, "\r\n")) == 0 {
			break
		}
		lineStart = len(raw)
	}

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return &requestHead{req: req, raw: raw}, nil
}

type requestKind int

const (
	requestStatusPage requestKind = iota
	requestConnect
	requestForward
)

func (k requestKind) String() string {
	switch k {
	case requestStatusPage:
		return "status"
	case requestConnect:
		return "connect"
	case requestForward:
		return "forward"
	default:
		return fmt.Sprintf("requestKind(%d)", int(k))
	}
}

// classifyRequest decides what a request is before any authentication runs.
// For CONNECT and forwarded requests it also returns the host:port to tunnel
// to. A GET for the root path is a status page request whatever host an
// absolute-form target names.
func classifyRequest(req *http.Request) (requestKind, string, error) {
	if req.Method == http.MethodConnect {
		host := req.URL.Host
		if host == "" {
			return 0, "", fmt.Errorf("%w: CONNECT without host", ErrProtocol)
		}
		return requestConnect, withDefaultPort(host, "443"), nil
	}

	if req.Method == http.MethodGet && (req.URL.Path == "" || req.URL.Path == "/") {
		return requestStatusPage, "", nil
	}
	if req.URL.Host == "" {
		return 0, "", fmt.Errorf("%w: request target %q is not absolute", ErrProtocol, req.RequestURI)
	}
	return requestForward, withDefaultPort(req.URL.Host, "80"), nil
}

func withDefaultPort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), port)
}

// parseProxyAuthorization decodes a Basic Proxy-Authorization header value.
func parseProxyAuthorization(header string) (string, string, error) {
	if header == "" {
		return "", "", errors.New("missing proxy authorization")
	}
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", errors.New("unsupported proxy auth scheme")
	}
	encoded := strings.TrimSpace(header[len(prefix):])
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", fmt.Errorf("decode proxy authorization: %w", err)
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", errors.New("invalid proxy authorization payload")
	}
	return user, pass, nil
}
