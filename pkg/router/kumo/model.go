package kumo

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/router-agent/pkg/router"
)

// Geometry is a KUMO model and its port counts.
type Geometry struct {
	Model   string
	Inputs  int
	Outputs int
}

var (
	Kumo1604 = Geometry{Model: "KUMO 1604", Inputs: 16, Outputs: 4}
	Kumo1616 = Geometry{Model: "KUMO 1616", Inputs: 16, Outputs: 16}
	Kumo3232 = Geometry{Model: "KUMO 3232", Inputs: 32, Outputs: 32}
	Kumo6464 = Geometry{Model: "KUMO 6464", Inputs: 64, Outputs: 64}
)

// paramSource answers whether a parameter exists on the device.
type paramSource interface {
	exists(ctx context.Context, param string) bool
}

// inferModel queries high-numbered port parameters. Without source 17 the
// device has 16 inputs, and without destination 5 it is the 4-output
// variant; with source 17, source 33 separates the 64 from the 32 port
// frame.
func inferModel(ctx context.Context, p paramSource) Geometry {
	if !p.exists(ctx, LabelParam(router.Input, 17)) {
		if p.exists(ctx, LabelParam(router.Output, 5)) {
			return Kumo1616
		}
		return Kumo1604
	}
	if p.exists(ctx, LabelParam(router.Input, 33)) {
		return Kumo6464
	}
	return Kumo3232
}

// paramChecker asks the config API, retrying a null or failed answer once
// before it is trusted as absence.
type paramChecker struct {
	client  *client
	timeout time.Duration
	logger  zerolog.Logger
}

func (p paramChecker) exists(ctx context.Context, param string) bool {
	for attempt := 1; attempt <= 2; attempt++ {
		v, err := p.client.get(ctx, param, p.timeout)
		switch {
		case err == nil && !v.Null:
			return true
		case errors.Is(err, errNotFound):
			return false
		case ctx.Err() != nil:
			return false
		}
		p.logger.Debug().Err(err).Str("param", param).Int("attempt", attempt).Msg("Ambiguous model query")
	}
	return false
}
