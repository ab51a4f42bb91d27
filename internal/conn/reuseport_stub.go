//go:build !linux

package conn

import (
	"errors"
	"syscall"
)

func reusePortControl(_, _ string, _ syscall.RawConn) error {
	return errors.New("reuse-port is only supported on linux")
}
