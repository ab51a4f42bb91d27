package socks5

import (
	"bufio"
	"errors"
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// Protocol versions seen in the first byte of a client greeting.
const (
	VersionSOCKS4 byte = 0x04
	VersionSOCKS5 byte = 0x05
)

var (
	// ErrNoAcceptableMethods is returned when the client does not offer
	// username/password authentication.
	ErrNoAcceptableMethods = errors.New("client does not support username/password")

	// ErrAuthFailed is returned when the client's credentials are rejected.
	ErrAuthFailed = errors.New("auth failed")
)

// Authenticator checks a username/password pair.
type Authenticator func(username, password string) bool

// PeekVersion returns the protocol version byte of the client greeting
// without consuming it.
func PeekVersion(br *bufio.Reader) (byte, error) {
	b, err := br.Peek(1)
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return b[0], nil
}

// ServerNegotiate performs method negotiation and the username/password
// subnegotiation (RFC 1929). Username/password is the only accepted method.
// It returns the authenticated username.
func ServerNegotiate(conn net.Conn, auth Authenticator) (string, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return "", fmt.Errorf("negotiation request: %w", err)
	}

	if !containsMethod(neg.Methods, txsocks5.MethodUsernamePassword) {
		writeNoAcceptableMethods(conn)
		return "", ErrNoAcceptableMethods
	}
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(conn); err != nil {
		return "", fmt.Errorf("negotiation reply: %w", err)
	}

	urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
	if err != nil {
		return "", fmt.Errorf("read userpass: %w", err)
	}
	username := string(urq.Uname)
	if !auth(username, string(urq.Passwd)) {
		_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
		return username, ErrAuthFailed
	}
	if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
		return username, fmt.Errorf("write userpass: %w", err)
	}
	return username, nil
}

// ServerReadRequest reads the client's request.
func ServerReadRequest(conn net.Conn) (*txsocks5.Request, error) {
	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	return req, nil
}

func containsMethod(methods []byte, want byte) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}
