package stream

import (
	"fmt"
	"net"
	"time"
)

const tcpConnectTimeout = 2 * time.Second

// TCPSource reads trace bytes off a TCP socket, the capture-over-network
// transport used by on-target trace servers (e.g. an Orbuculum relay).
type TCPSource struct {
	conn net.Conn
}

// DialTCP connects to addr ("host:port") with a bounded connect deadline
// and disables Nagle's algorithm: trace bytes are latency sensitive and
// arrive in small, irregular bursts.
func DialTCP(addr string) (*TCPSource, error) {
	conn, err := net.DialTimeout("tcp", addr, tcpConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("stream: set nodelay: %w", err)
		}
	}
	return &TCPSource{conn: conn}, nil
}

func (t *TCPSource) Read(buf []byte, timeout time.Duration) (int, Status, error) {
	if timeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, Error, err
		}
	} else {
		if err := t.conn.SetReadDeadline(time.Time{}); err != nil {
			return 0, Error, err
		}
	}
	n, err := t.conn.Read(buf)
	if err == nil {
		return n, OK, nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return n, Timeout, nil
	}
	status := Error
	if isEOF(err) {
		status = EOF
	}
	return n, status, err
}

func (t *TCPSource) Close() error {
	return t.conn.Close()
}
