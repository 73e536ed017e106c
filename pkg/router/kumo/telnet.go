package kumo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/ziutek/telnet"
	"golang.org/x/time/rate"

	"github.com/benmeehan/router-agent/pkg/lineconn"
	"github.com/benmeehan/router-agent/pkg/router"
)

// errRejected marks a console command the device answered with an error.
var errRejected = errors.New("console rejected command")

// bannerIdle is how long the login banner may pause before the console is
// considered ready.
const bannerIdle = 500 * time.Millisecond

var (
	labelReplyPattern = regexp.MustCompile(`^LABEL\s+(INPUT|OUTPUT)\s+(\d+)\s+"((?:[^"\\]|\\.)*)"`)
	quotedPattern     = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
)

// telnetConsole is one connection to the KUMO text console.
type telnetConsole struct {
	conn       *lineconn.Conn
	limiter    *rate.Limiter
	cmdTimeout time.Duration
	logger     zerolog.Logger
}

func dialConsole(ctx context.Context, addr string, timeouts router.Timeouts, limiter *rate.Limiter, logger zerolog.Logger) (*telnetConsole, error) {
	dialer := net.Dialer{Timeout: timeouts.TelnetConnect}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("telnet connect %s: %w", addr, err)
	}
	session, err := telnet.NewConn(raw)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("telnet connect %s: %w", addr, err)
	}
	conn := lineconn.New(session)
	banner, err := conn.Drain(bannerIdle, timeouts.TelnetConnect)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("telnet banner %s: %w", addr, err)
	}
	logger.Debug().Str("addr", addr).Int("banner_bytes", len(banner)).Msg("Telnet console ready")
	return &telnetConsole{conn: conn, limiter: limiter, cmdTimeout: timeouts.TelnetCommand, logger: logger}, nil
}

func (t *telnetConsole) Close() error {
	return t.conn.Close()
}

func (t *telnetConsole) send(ctx context.Context, cmd string) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return t.conn.WriteLine(ctx, cmd, "\n", t.cmdTimeout)
}

// query reads one port label. Lines that belong to another port or carry
// no quoted text are skipped until the command deadline.
func (t *telnetConsole) query(ctx context.Context, dir router.Direction, port int) (string, error) {
	if err := t.send(ctx, queryCommand(dir, port)); err != nil {
		return "", err
	}
	deadline := time.Now().Add(t.cmdTimeout)
	for {
		line, err := t.conn.ReadLineUntil(ctx, deadline)
		if err != nil {
			return "", err
		}
		if label, ok := parseLabelReply(line, dir, port); ok {
			return label, nil
		}
		t.logger.Debug().Str("line", line).Msg("Skipping console line")
	}
}

// set writes one port label. Any reply other than an error line counts as
// accepted.
func (t *telnetConsole) set(ctx context.Context, dir router.Direction, port int, label string) error {
	cmd := setCommand(dir, port, label)
	if err := t.send(ctx, cmd); err != nil {
		return err
	}
	return t.expectReply(ctx, cmd)
}

// save commits the console changes to flash.
func (t *telnetConsole) save(ctx context.Context) error {
	if err := t.send(ctx, "SAVE"); err != nil {
		return err
	}
	return t.expectReply(ctx, "SAVE")
}

func (t *telnetConsole) expectReply(ctx context.Context, cmd string) error {
	deadline := time.Now().Add(t.cmdTimeout)
	for {
		line, err := t.conn.ReadLineUntil(ctx, deadline)
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" || line == cmd {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(line), "ERR") {
			return fmt.Errorf("%w %q: %s", errRejected, cmd, line)
		}
		return nil
	}
}

func queryCommand(dir router.Direction, port int) string {
	return fmt.Sprintf("LABEL %s %d ?", dir, port)
}

func setCommand(dir router.Direction, port int, label string) string {
	return fmt.Sprintf("LABEL %s %d \"%s\"", dir, port, quote(label))
}

// parseLabelReply extracts the quoted label from a console reply. A reply
// that names a different port is rejected.
func parseLabelReply(line string, dir router.Direction, port int) (string, bool) {
	if m := labelReplyPattern.FindStringSubmatch(line); m != nil {
		if m[1] != dir.String() || m[2] != strconv.Itoa(port) {
			return "", false
		}
		return unquote(m[3]), true
	}
	if m := quotedPattern.FindStringSubmatch(line); m != nil {
		return unquote(m[1]), true
	}
	return "", false
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func unquote(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
