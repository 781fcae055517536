package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"net"

	"git.sr.ht/~rjarry/composerd/lib/xdg"
)

func SocketPath() string {
	return xdg.RuntimePath("composerd.sock")
}

// ConnectAndExec forwards args to the instance listening on sockpath. An
// empty sockpath means the default socket.
func ConnectAndExec(sockpath string, args []string) (*Response, error) {
	if sockpath == "" {
		sockpath = SocketPath()
	}
	conn, err := net.Dial("unix", sockpath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req, err := encodeLine(&Request{Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("%s: %w", sockpath, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(nil, maxLineSize)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", sockpath, err)
		}
		return nil, errors.New("no response from server")
	}
	return decode[Response](scanner.Bytes())
}
