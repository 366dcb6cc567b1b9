//go:build !linux

package api

import (
	"errors"
	"net"
)

func peerPID(*net.UnixConn) (int, error) {
	return 0, errors.New("peer credentials not supported on this platform")
}
