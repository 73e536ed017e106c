package kumo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/benmeehan/router-agent/pkg/router"
)

const (
	DefaultHTTPPort   = 80
	DefaultTelnetPort = 23
	// DefaultRequestRate paces HTTP and console requests per second.
	DefaultRequestRate rate.Limit = 20
)

// Config configures the KUMO connector. Zero fields take defaults.
type Config struct {
	HTTPPort    int
	TelnetPort  int
	RequestRate rate.Limit // rate.Inf disables pacing
	Timeouts    router.Timeouts
	HTTPClient  *http.Client
}

func (c Config) withDefaults() Config {
	if c.HTTPPort == 0 {
		c.HTTPPort = DefaultHTTPPort
	}
	if c.TelnetPort == 0 {
		c.TelnetPort = DefaultTelnetPort
	}
	if c.RequestRate == 0 {
		c.RequestRate = DefaultRequestRate
	}
	c.Timeouts = c.Timeouts.WithDefaults()
	return c
}

// Connector opens KUMO backends.
type Connector struct {
	cfg    Config
	logger zerolog.Logger
}

func NewConnector(cfg Config, logger zerolog.Logger) *Connector {
	return &Connector{cfg: cfg.withDefaults(), logger: logger}
}

func (c *Connector) Kind() router.Kind { return router.KindKumo }
func (c *Connector) Port() int         { return c.cfg.HTTPPort }

// Connect reads the system name within handshakeTimeout, then the firmware
// version and the port geometry.
func (c *Connector) Connect(ctx context.Context, host string, handshakeTimeout time.Duration) (router.Backend, error) {
	base := "http://" + net.JoinHostPort(host, strconv.Itoa(c.cfg.HTTPPort))
	limiter := rate.NewLimiter(c.cfg.RequestRate, 1)
	cl := newClient(base, c.cfg.HTTPClient, limiter)
	logger := c.logger.With().Str("host", host).Stringer("backend", router.KindKumo).Logger()

	name, err := cl.get(ctx, ParamSystemName, handshakeTimeout)
	if err == nil && name.Null {
		err = errors.New("system name is null")
	}
	if err != nil {
		return nil, router.NewError(router.ErrHandshake, router.KindKumo, "handshake",
			fmt.Errorf("GET %s on %s: %w", ParamSystemName, base, err))
	}

	firmware := ""
	if v, err := cl.get(ctx, ParamSWVersion, c.cfg.Timeouts.HTTPRequest); err == nil && !v.Null {
		firmware = v.label()
	} else {
		logger.Debug().Err(err).Msg("Firmware version not reported")
	}

	geo := inferModel(ctx, paramChecker{client: cl, timeout: c.cfg.Timeouts.HTTPRequest, logger: logger})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := &Backend{
		info: router.DeviceInfo{
			Kind:           router.KindKumo,
			Name:           name.label(),
			Model:          geo.Model,
			Firmware:       firmware,
			Inputs:         geo.Inputs,
			Outputs:        geo.Outputs,
			MaxLabelLength: MaxLabelLength,
		},
		client:     cl,
		telnetAddr: net.JoinHostPort(host, strconv.Itoa(c.cfg.TelnetPort)),
		limiter:    limiter,
		timeouts:   c.cfg.Timeouts,
		logger:     logger,
	}
	logger.Debug().Str("model", geo.Model).Msg("KUMO model inferred")
	return b, nil
}
