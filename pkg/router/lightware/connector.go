package lightware

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/router-agent/pkg/lineconn"
	"github.com/benmeehan/router-agent/pkg/router"
)

const (
	// DefaultPort is the LW3 protocol port.
	DefaultPort = 6107
	// DefaultPortCount is used when the device does not report a count.
	DefaultPortCount = 8
)

// Config configures the Lightware connector. Zero fields take defaults.
type Config struct {
	Port     int
	Timeouts router.Timeouts
}

// Connector opens Lightware backends.
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

func (c *Connector) Kind() router.Kind { return router.KindLightware }
func (c *Connector) Port() int         { return c.port }

// Connect dials the device and reads its product name within
// handshakeTimeout, then the port counts.
func (c *Connector) Connect(ctx context.Context, host string, handshakeTimeout time.Duration) (router.Backend, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(c.port))
	conn, err := lineconn.Dial(ctx, addr, handshakeTimeout)
	if err != nil {
		return nil, router.NewError(router.ErrHandshake, router.KindLightware, "handshake", err)
	}
	b := &Backend{
		conn:     conn,
		timeouts: c.timeouts,
		logger:   c.logger.With().Str("host", host).Stringer("backend", router.KindLightware).Logger(),
	}

	lines, err := b.exchange(ctx, "GET "+PathProductName, handshakeTimeout)
	if err == nil {
		if _, ok := propertyValue(lines, PathProductName); !ok {
			err = router.Errorf(router.ErrProtocol, router.KindLightware, "handshake", "no product name in reply")
		}
	}
	if err != nil {
		_ = conn.Close()
		return nil, router.NewError(router.ErrHandshake, router.KindLightware, "handshake", err)
	}
	product, _ := propertyValue(lines, PathProductName)

	b.info = router.DeviceInfo{
		Kind:           router.KindLightware,
		Name:           product,
		Model:          product,
		Firmware:       b.readOptional(ctx, PathFirmware),
		Inputs:         b.readCount(ctx, PathSourceCount),
		Outputs:        b.readCount(ctx, PathDestCount),
		MaxLabelLength: MaxLabelLength,
	}
	return b, nil
}

func (b *Backend) readOptional(ctx context.Context, path string) string {
	lines, err := b.exchange(ctx, "GET "+path, b.timeouts.ReplyWait)
	if err != nil {
		b.logger.Debug().Err(err).Str("path", path).Msg("Optional property not read")
		return ""
	}
	value, _ := propertyValue(lines, path)
	return strings.TrimSpace(value)
}

// readCount returns a port count, DefaultPortCount when absent or zero.
func (b *Backend) readCount(ctx context.Context, path string) int {
	n, err := strconv.Atoi(b.readOptional(ctx, path))
	if err != nil || n <= 0 {
		b.logger.Debug().Str("path", path).Int("default", DefaultPortCount).Msg("Port count missing, using default")
		return DefaultPortCount
	}
	return n
}
