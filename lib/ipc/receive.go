package ipc

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"git.sr.ht/~rjarry/composerd/lib/log"
)

type Server struct {
	listener net.Listener
	handler  Handler
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// StartServer listens on sockpath, or the default socket when empty. A
// stale socket left by a dead instance is removed first.
func StartServer(sockpath string, handler Handler) (*Server, error) {
	if sockpath == "" {
		sockpath = SocketPath()
	}
	if _, err := ConnectAndExec(sockpath, nil); err != nil {
		os.Remove(sockpath)
	}
	log.Debugf("Starting Unix server: %s", sockpath)
	l, err := net.Listen("unix", sockpath)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		listener: l,
		handler:  handler,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
	go s.Serve()
	return s, nil
}

// Close stops accepting connections, aborts the pending commands and
// waits for their connections to terminate.
func (s *Server) Close() {
	s.listener.Close()
	s.cancel()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

var lastId int64 // atomic

func (s *Server) Serve() {
	defer log.PanicHandler()

	for {
		conn, err := s.listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			log.Infof("ipc: listener closed")
			return
		}
		if err != nil {
			log.Errorf("ipc: accept: %v", err)
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// Idle connections are dropped after this delay.
const idleTimeout = time.Minute

// Longest accepted line, drafts bodies are not sent over the socket.
const maxLineSize = 1 << 20

func (s *Server) serveConn(conn net.Conn) {
	defer log.PanicHandler()
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	id := atomic.AddInt64(&lastId, 1)
	log.Debugf("unix:%d connected", id)
	defer log.Tracef("unix:%d disconnected", id)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(nil, maxLineSize)
	for {
		if err := conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			log.Errorf("unix:%d deadline: %v", id, err)
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				log.Debugf("unix:%d read: %v", id, err)
			}
			return
		}
		log.Tracef("unix:%d <- %s", id, scanner.Text())
		var res *Response
		req, err := decode[Request](scanner.Bytes())
		if err != nil {
			res = &Response{Error: "invalid request: " + err.Error()}
		} else {
			res = s.handleMessage(req)
		}
		line, err := encodeLine(res)
		if err != nil {
			log.Errorf("unix:%d encode: %v", id, err)
			continue
		}
		if _, err := conn.Write(line); err != nil {
			log.Errorf("unix:%d write: %v", id, err)
			return
		}
	}
}

func (s *Server) handleMessage(req *Request) *Response {
	if len(req.Arguments) == 0 {
		return &Response{}
	}
	lines, err := s.handler.Command(s.ctx, req.Arguments)
	if err != nil {
		return &Response{Error: err.Error()}
	}
	return &Response{Result: lines}
}
