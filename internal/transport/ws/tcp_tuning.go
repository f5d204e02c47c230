//go:build linux

package ws

import (
	"net"
	"syscall"
)

// tuneTCPConn applies socket options suited to a high-connection-count
// listener: disable Nagle, enable keepalive, and bound the
// unacknowledged-data timeout so a half-dead peer is reaped instead of
// pinning a goroutine forever.
func tuneTCPConn(conn *net.TCPConn) error {
	file, err := conn.File()
	if err != nil {
		return err
	}
	defer file.Close()

	fd := int(file.Fd())
	syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 1)
	syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_KEEPIDLE, 30)
	syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_KEEPINTVL, 10)
	syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_KEEPCNT, 3)
	const tcpUserTimeout = 18
	syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, tcpUserTimeout, 30000)
	return nil
}
