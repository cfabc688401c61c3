package proxy

import (
	"bufio"
	"bytes"
	"io"
	"net"
)

// prefixConn replays bytes buffered before a hijack ahead of the live
// connection so tunnel forwarding stays byte-transparent.
type prefixConn struct {
	net.Conn
	reader io.Reader
}

func (c *prefixConn) Read(b []byte) (int, error) {
	return c.reader.Read(b)
}

// prefixedConn returns conn, or a wrapper replaying the bytes still
// sitting in the hijacked buffered reader.
func prefixedConn(conn net.Conn, buffered *bufio.Reader) net.Conn {
	if buffered == nil || buffered.Buffered() == 0 {
		return conn
	}
	n := buffered.Buffered()
	prefetched := make([]byte, n)
	if _, err := io.ReadFull(buffered, prefetched); err != nil {
		return conn
	}
	return &prefixConn{
		Conn:   conn,
		reader: io.MultiReader(bytes.NewReader(prefetched), conn),
	}
}
