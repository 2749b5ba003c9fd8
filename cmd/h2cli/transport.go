package main

import (
	"crypto/tls"
	"net"
	"time"
)

// tcpTransport adapts a net.Conn (plain or TLS, dialed by the caller — the
// core never dials its own socket) to h2c.Transport.
type tcpTransport struct {
	conn net.Conn
}

// dialH2 connects to addr, negotiating ALPN "h2" over TLS unless
// insecureNoTLS requests prior-knowledge plaintext h2c.
func dialH2(addr string, insecureNoTLS bool) (*tcpTransport, error) {
	if insecureNoTLS {
		conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return &tcpTransport{conn: conn}, nil
	}

	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, &tls.Config{
		NextProtos: []string{"h2"},
	})
	if err != nil {
		return nil, err
	}
	return &tcpTransport{conn: conn}, nil
}

func (t *tcpTransport) Send(b []byte) error {
	_, err := t.conn.Write(b)
	return err
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func (t *tcpTransport) Recv(min int, timeoutMs int) ([]byte, error) {
	if timeoutMs > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(time.Duration(timeoutMs) * time.Millisecond))
		defer t.conn.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, 4096)
	n, err := t.conn.Read(buf)
	if n == 0 {
		return nil, err
	}
	return buf[:n], err
}
