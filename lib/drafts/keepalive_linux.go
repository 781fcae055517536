//go:build linux

package drafts

import "golang.org/x/sys/unix"

func setTcpKeepaliveProbes(fd, count int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, count)
}

func setTcpKeepaliveInterval(fd, secs int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs)
}
