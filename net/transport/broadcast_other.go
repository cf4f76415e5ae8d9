//go:build !unix

package transport

import "syscall"

// The runtime already enables broadcast on datagram sockets here
func enableBroadcast(network, address string, c syscall.RawConn) error {
	return nil
}
