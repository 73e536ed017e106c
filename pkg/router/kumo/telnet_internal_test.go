package kumo

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/router-agent/pkg/router"
)

// TestConsole_NegotiatesOptions runs the console against a raw socket that
// opens with option negotiation and embeds a command inside a reply line.
func TestConsole_NegotiatesOptions(t *testing.T) {
	// Setup
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// IAC WILL ECHO, IAC DO TERMINAL-TYPE, then the banner.
		_, _ = conn.Write([]byte{0xFF, 0xFB, 0x01, 0xFF, 0xFD, 0x18})
		_, _ = conn.Write([]byte("KUMO console\r\n> "))

		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		received <- line
		_, _ = conn.Write([]byte("\xff\xfb\x03LABEL INPUT 1 \"Cam 1\"\r\n"))
		time.Sleep(time.Second)
	}()

	timeouts := router.Timeouts{TelnetConnect: 2 * time.Second, TelnetCommand: time.Second}

	// Execute
	console, err := dialConsole(context.Background(), ln.Addr().String(), timeouts, nil, zerolog.Nop())
	require.NoError(t, err)
	defer console.Close()
	label, err := console.query(context.Background(), router.Input, 1)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "Cam 1", label)

	line := <-received
	assert.True(t, strings.HasSuffix(strings.TrimRight(line, "\r\n"), "LABEL INPUT 1 ?"))
	assert.Contains(t, line, "\xff", "option replies precede the first command")
}
