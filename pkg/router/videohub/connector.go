package videohub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/router-agent/pkg/lineconn"
	"github.com/benmeehan/router-agent/pkg/router"
)

// DefaultPort is the Videohub Ethernet protocol port.
const DefaultPort = 9990

// Config configures the Videohub connector. Zero fields take defaults.
type Config struct {
	Port     int
	Timeouts router.Timeouts
}

// Connector opens Videohub backends.
type Connector struct {
	port     int
	timeouts router.Timeouts
	logger   zerolog.Logger
}

func NewConnector(cfg Config, logger zerolog.Logger) *Connector {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	return &Connector{port: port, timeouts: cfg.Timeouts.WithDefaults(), logger: logger}
}

func (c *Connector) Kind() router.Kind { return router.KindVideohub }
func (c *Connector) Port() int         { return c.port }

// Connect dials the device and reads the state dump it pushes. The first
// line must arrive within handshakeTimeout.
func (c *Connector) Connect(ctx context.Context, host string, handshakeTimeout time.Duration) (router.Backend, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(c.port))
	conn, err := lineconn.Dial(ctx, addr, handshakeTimeout)
	if err != nil {
		return nil, router.NewError(router.ErrHandshake, router.KindVideohub, "handshake", err)
	}

	b := &Backend{
		conn:     conn,
		state:    NewState(),
		timeouts: c.timeouts,
		logger:   c.logger.With().Str("host", host).Stringer("backend", router.KindVideohub).Logger(),
	}
	if err := b.readDump(ctx, handshakeTimeout); err != nil {
		_ = conn.Close()
		return nil, router.NewError(router.ErrHandshake, router.KindVideohub, "handshake", err)
	}
	b.info = b.state.Info()
	if present := b.state.DevicePresent; present != "" && present != "true" {
		b.logger.Warn().Str("device_present", present).Msg("Videohub reports device not ready")
	}
	return b, nil
}

// readDump consumes the connect dump until END PRELUDE or until the device
// stays silent for the dump idle time. Not every firmware sends the end
// marker.
func (b *Backend) readDump(ctx context.Context, handshakeTimeout time.Duration) error {
	first := time.Now().Add(handshakeTimeout)
	limit := first.Add(b.timeouts.ReplyWait)
	got := false
	for {
		deadline := first
		if got {
			deadline = time.Now().Add(b.timeouts.DumpIdle)
			if deadline.After(limit) {
				deadline = limit
			}
		}
		line, err := b.conn.ReadLineUntil(ctx, deadline)
		if err != nil {
			if got && lineconn.IsTimeout(err) && ctx.Err() == nil {
				break
			}
			if !got && lineconn.IsTimeout(err) {
				return fmt.Errorf("no state dump within %s", handshakeTimeout)
			}
			return err
		}
		got = true
		blocks, _ := b.parser.Feed(line)
		if b.applyDump(blocks) {
			return b.checkIdentity()
		}
	}
	if blk := b.parser.Flush(); blk != nil {
		b.state.Apply(*blk)
	}
	return b.checkIdentity()
}

// applyDump applies blocks and reports whether the end marker was seen.
func (b *Backend) applyDump(blocks []Block) bool {
	for _, blk := range blocks {
		if blk.Name == BlockEndPrelude {
			return true
		}
		b.state.Apply(blk)
	}
	return false
}

func (b *Backend) checkIdentity() error {
	if !b.state.Identified() {
		return errors.New("dump carried neither preamble nor device block")
	}
	return nil
}
