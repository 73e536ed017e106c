// Package backends assembles the connectors of every supported router in
// the order they are tried.
package backends

import (
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/benmeehan/router-agent/pkg/router"
	"github.com/benmeehan/router-agent/pkg/router/kumo"
	"github.com/benmeehan/router-agent/pkg/router/lightware"
	"github.com/benmeehan/router-agent/pkg/router/videohub"
)

// Ports overrides the well-known protocol ports. Zero fields keep the
// vendor default.
type Ports struct {
	Lightware  int `yaml:"lightware"`
	Videohub   int `yaml:"videohub"`
	KumoHTTP   int `yaml:"kumo_http"`
	KumoTelnet int `yaml:"kumo_telnet"`
}

// Options tunes the default connector set.
type Options struct {
	Ports           Ports
	Timeouts        router.Timeouts
	KumoRequestRate rate.Limit
	HTTPClient      *http.Client
}

// Default returns the connectors in detection priority order: the framed TCP
// protocol first, then the block text protocol, then HTTP.
func Default(opts Options, logger zerolog.Logger) []router.Connector {
	return []router.Connector{
		lightware.NewConnector(lightware.Config{Port: opts.Ports.Lightware, Timeouts: opts.Timeouts}, logger),
		videohub.NewConnector(videohub.Config{Port: opts.Ports.Videohub, Timeouts: opts.Timeouts}, logger),
		kumo.NewConnector(kumo.Config{
			HTTPPort:    opts.Ports.KumoHTTP,
			TelnetPort:  opts.Ports.KumoTelnet,
			RequestRate: opts.KumoRequestRate,
			Timeouts:    opts.Timeouts,
			HTTPClient:  opts.HTTPClient,
		}, logger),
	}
}

// NewDetector returns a detector over the default connectors.
func NewDetector(opts Options, observer router.Observer, logger zerolog.Logger) *router.Detector {
	return router.NewDetector(opts.Timeouts, observer, logger, Default(opts, logger)...)
}
