package lineconn

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// Conn is a line-oriented TCP connection where every read and write carries
// its own deadline.
type Conn struct {
	conn    net.Conn
	reader  *bufio.Reader
	partial string // bytes of a line cut off by a deadline

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to addr; the dial is bounded by timeout and ctx.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// New wraps an existing connection, for example a Telnet session that
// already handles option negotiation.
func New(conn net.Conn) *Conn {
	return &Conn{conn: conn, reader: bufio.NewReader(conn)}
}

// Write sends raw text before the deadline. Cancelling ctx interrupts a
// blocked write.
func (c *Conn) Write(ctx context.Context, text string, timeout time.Duration) error {
	if err := c.conn.SetWriteDeadline(deadline(ctx, timeout)); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetWriteDeadline(time.Now()) })
	defer stop()
	_, err := c.conn.Write([]byte(text))
	return err
}

// WriteLine sends text followed by eol.
func (c *Conn) WriteLine(ctx context.Context, text, eol string, timeout time.Duration) error {
	return c.Write(ctx, text+eol, timeout)
}

// ReadLine returns the next line without its CR/LF terminator. The read
// blocks until a line arrives, the deadline passes or ctx is cancelled.
func (c *Conn) ReadLine(ctx context.Context, timeout time.Duration) (string, error) {
	return c.ReadLineUntil(ctx, deadline(ctx, timeout))
}

// ReadLineUntil is ReadLine with an absolute deadline, for loops that share
// one deadline across many lines. A line cut off by the deadline is kept
// and completed by the next read.
func (c *Conn) ReadLineUntil(ctx context.Context, at time.Time) (string, error) {
	if err := c.conn.SetReadDeadline(at); err != nil {
		return "", err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	line, err := c.reader.ReadString('\n')
	line = c.partial + line
	c.partial = ""
	if err != nil {
		if IsTimeout(err) {
			c.partial = line
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", err
		}
		return c.clean(line), err
	}
	return c.clean(line), nil
}

// Drain reads and discards whatever the peer sends until it stays silent
// for idle, or until maxWait has elapsed. It returns the drained text.
func (c *Conn) Drain(idle, maxWait time.Duration) (string, error) {
	var b strings.Builder
	b.WriteString(c.partial)
	c.partial = ""
	buf := make([]byte, 4096)
	stop := time.Now().Add(maxWait)
	for {
		next := time.Now().Add(idle)
		if next.After(stop) {
			next = stop
		}
		if err := c.conn.SetReadDeadline(next); err != nil {
			return b.String(), err
		}
		n, err := c.reader.Read(buf)
		b.Write(buf[:n])
		if err != nil {
			if IsTimeout(err) {
				return c.clean(b.String()), nil
			}
			return c.clean(b.String()), err
		}
		if !time.Now().Before(stop) {
			return c.clean(b.String()), nil
		}
	}
}

// Close closes the socket once; later calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Conn) clean(s string) string {
	return strings.TrimRight(s, "\r\n")
}

// IsTimeout reports whether err is a read or write deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	at := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(at) {
		return d
	}
	return at
}
