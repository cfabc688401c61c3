package proxy

import (
	"net"
	"sync/atomic"

	"github.com/frayproxy/fray/internal/event"
)

// HistoryEntry captures one finished proxy operation for the optional
// request history store.
type HistoryEntry struct {
	TaskID      event.TaskID
	StartedAtNs int64
	ClientIP    string
	Method      string
	TargetHost  string
	TargetURL   string
	IsConnect   bool
	Faulted     bool
	FaultKind   string
	HTTPStatus  int
	DurationNs  int64
	BytesDown   int64
	BytesUp     int64
	Error       string
}

// HistorySink receives finished-request entries. Implemented by the
// requestlog service; a nil sink disables recording.
type HistorySink interface {
	Record(HistoryEntry)
}

// countingConn wraps a net.Conn, accumulating bytes read and written into
// task-owned counters. Read bytes are traffic arriving from the wrapped
// peer; written bytes are traffic sent to it.
type countingConn struct {
	net.Conn
	read    *atomic.Int64
	written *atomic.Int64
}

func newCountingConn(conn net.Conn, read, written *atomic.Int64) *countingConn {
	return &countingConn{Conn: conn, read: read, written: written}
}

func (c *countingConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.read.Add(int64(n))
	}
	return n, err
}

func (c *countingConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.written.Add(int64(n))
	}
	return n, err
}
