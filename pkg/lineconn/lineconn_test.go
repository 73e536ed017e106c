package lineconn_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/router-agent/pkg/lineconn"
)

func pipe(t *testing.T) (*lineconn.Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return lineconn.New(client), server
}

func TestReadLine_TrimsTerminator(t *testing.T) {
	c, server := pipe(t)
	go server.Write([]byte("LABEL INPUT 1 \"Cam 1\"\r\n"))

	line, err := c.ReadLine(context.Background(), time.Second)

	require.NoError(t, err)
	assert.Equal(t, `LABEL INPUT 1 "Cam 1"`, line)
}

func TestReadLine_TimeoutKeepsPartialLine(t *testing.T) {
	c, server := pipe(t)
	go server.Write([]byte("{00"))

	_, err := c.ReadLine(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, lineconn.IsTimeout(err))

	go server.Write([]byte("12\r\n"))
	line, err := c.ReadLine(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "{0012", line)
}

func TestReadLine_CancelInterruptsRead(t *testing.T) {
	c, _ := pipe(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.ReadLine(ctx, 5*time.Second)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDrain_StopsOnSilence(t *testing.T) {
	c, server := pipe(t)
	go func() {
		server.Write([]byte("Welcome\r\n"))
		server.Write([]byte("> "))
	}()

	text, err := c.Drain(100*time.Millisecond, time.Second)

	require.NoError(t, err)
	assert.Equal(t, "Welcome\r\n> ", text)
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := pipe(t)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
