//go:build !linux

package engine

import (
	"errors"
	"net"
)

var errNoSockets = errors.New("engine: non-blocking sockets are only implemented on linux")

func connectNonBlocking(net.IP, int) (int, error) { return -1, errNoSockets }
func connectResult(int) error                     { return errNoSockets }
func readSocket(int, []byte) (int, error)         { return 0, errNoSockets }
func writeSocket(int, []byte) (int, error)        { return 0, errNoSockets }
func wouldBlock(error) bool                       { return false }
func peerReset(error) bool                        { return false }
func closeSocket(int) error                       { return nil }
