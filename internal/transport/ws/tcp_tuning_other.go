//go:build !linux

package ws

import "net"

// tuneTCPConn is a no-op on platforms without the Linux-specific socket
// options tuneTCPConn(linux) applies.
func tuneTCPConn(conn *net.TCPConn) error { return nil }
