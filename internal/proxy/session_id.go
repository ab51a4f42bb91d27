package proxy

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lucsky/cuid"
)

// SessionIDFunc returns the session ID generator for mode, "uuid" or "cuid".
func SessionIDFunc(mode string) (func() string, error) {
	switch strings.ToLower(mode) {
	case "", "uuid":
		return uuid.NewString, nil
	case "cuid":
		return cuid.New, nil
	default:
		return nil, fmt.Errorf("unsupported session id mode %q (use uuid or cuid)", mode)
	}
}
