//go:build !linux

package drafts

func setTcpKeepaliveProbes(fd, count int) error {
	return nil
}

func setTcpKeepaliveInterval(fd, interval int) error {
	return nil
}
