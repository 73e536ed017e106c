// Package routersim runs in-process stand-ins for the supported routers so
// the backends can be exercised over real sockets.
package routersim

import (
	"bufio"
	"net"
	"sync"
)

// tcpServer accepts connections on a loopback port and serves each with
// handle in its own goroutine.
type tcpServer struct {
	ln     net.Listener
	wg     sync.WaitGroup
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	handle func(net.Conn, *bufio.Reader)
}

func startTCP(handle func(net.Conn, *bufio.Reader)) (*tcpServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &tcpServer{ln: ln, handle: handle, conns: map[net.Conn]struct{}{}}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

func (s *tcpServer) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conn.Close()
			}()
			s.handle(conn, bufio.NewReader(conn))
		}()
	}
}

func (s *tcpServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// dropClients closes every open client connection but keeps listening.
func (s *tcpServer) dropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

func (s *tcpServer) close() {
	s.ln.Close()
	s.dropClients()
	s.wg.Wait()
}

// Host is the address every simulator listens on.
const Host = "127.0.0.1"
