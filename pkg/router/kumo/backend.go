package kumo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/benmeehan/router-agent/pkg/lineconn"
	"github.com/benmeehan/router-agent/pkg/router"
)

// maxConsecutiveFailures abandons the HTTP download after this many port
// queries fail in a row.
const maxConsecutiveFailures = 3

// Backend drives a KUMO router over its HTTP config API, with the Telnet
// console as second path for downloads and failed uploads. HTTP is
// connectionless, so the backend keeps no socket open between calls.
type Backend struct {
	info       router.DeviceInfo
	client     *client
	telnetAddr string
	limiter    *rate.Limiter
	timeouts   router.Timeouts
	logger     zerolog.Logger

	closeOnce sync.Once
}

func (b *Backend) Kind() router.Kind       { return router.KindKumo }
func (b *Backend) Info() router.DeviceInfo { return b.info }

// Download reads every label over HTTP, falling back once to the Telnet
// console when the HTTP path is abandoned.
func (b *Backend) Download(ctx context.Context) ([]router.PortLabel, error) {
	policy := router.Policy[[]router.PortLabel]{
		Strategies: []router.Strategy[[]router.PortLabel]{
			{Name: router.SourceHTTP, Run: b.downloadHTTP},
			{Name: router.SourceTelnet, Run: b.downloadTelnet},
		},
	}
	labels, via, err := policy.Execute(ctx, b.logger)
	if err != nil {
		return labels, classify("download", err)
	}
	b.logger.Debug().Str("via", via).Int("labels", len(labels)).Msg("KUMO download complete")
	return labels, nil
}

func (b *Backend) downloadHTTP(ctx context.Context) ([]router.PortLabel, error) {
	refs := b.ports()
	labels := make([]router.PortLabel, 0, len(refs))
	consecutive := 0
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return labels, err
		}
		p, err := b.client.get(ctx, LabelParam(ref.Direction, ref.Port), b.timeouts.HTTPRequest)
		if err == nil && p.Null {
			err = errors.New("null value")
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return labels, ctxErr
			}
			consecutive++
			b.logger.Debug().Err(err).Stringer("port", ref).Msg("HTTP label query failed")
			if i == 0 || consecutive >= maxConsecutiveFailures {
				return labels, fmt.Errorf("%w: HTTP path gave up at %s after %d failure(s): %v",
					router.ErrAbandoned, ref, consecutive, err)
			}
			labels = append(labels, placeholder(ref))
			continue
		}
		consecutive = 0
		labels = append(labels, labelFrom(ref, p.label(), router.SourceHTTP))
	}
	return labels, nil
}

func (b *Backend) downloadTelnet(ctx context.Context) ([]router.PortLabel, error) {
	console, err := dialConsole(ctx, b.telnetAddr, b.timeouts, b.limiter, b.logger)
	if err != nil {
		return nil, err
	}
	defer console.Close()

	refs := b.ports()
	labels := make([]router.PortLabel, 0, len(refs))
	answered := 0
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return labels, err
		}
		label, err := console.query(ctx, ref.Direction, ref.Port)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return labels, ctxErr
		}
		switch {
		case err == nil:
			answered++
			labels = append(labels, labelFrom(ref, label, router.SourceTelnet))
		case lineconn.IsTimeout(err):
			b.logger.Debug().Stringer("port", ref).Msg("Console query timed out, using placeholder")
			labels = append(labels, placeholder(ref))
		default:
			return labels, fmt.Errorf("telnet query %s: %w", ref, err)
		}
	}
	if answered == 0 {
		return nil, fmt.Errorf("telnet console answered none of %d label queries", len(refs))
	}
	return labels, nil
}

// UploadLabel writes one label with a single SET request.
func (b *Backend) UploadLabel(ctx context.Context, label router.PortLabel) error {
	err := b.client.set(ctx, LabelParam(label.Direction, label.Port), label.Desired, b.timeouts.HTTPRequest)
	if err != nil {
		return router.NewError(router.ErrPortOperation, router.KindKumo, "upload", err, label.Ref())
	}
	return nil
}

// RetryLabels submits labels over one Telnet connection and saves them.
func (b *Backend) RetryLabels(ctx context.Context, labels []router.PortLabel) ([]router.PortLabel, error) {
	console, err := dialConsole(ctx, b.telnetAddr, b.timeouts, b.limiter, b.logger)
	if err != nil {
		return nil, classify("retry", err)
	}
	defer console.Close()

	var landed []router.PortLabel
	for _, l := range labels {
		if err := ctx.Err(); err != nil {
			return landed, err
		}
		err := console.set(ctx, l.Direction, l.Port, l.Desired)
		if err == nil {
			landed = append(landed, l)
			continue
		}
		b.logger.Warn().Err(err).Stringer("port", l).Msg("Console label write failed")
		if !errors.Is(err, errRejected) && !lineconn.IsTimeout(err) {
			return landed, classify("retry", err, l.Ref())
		}
	}

	if len(landed) > 0 {
		if err := console.save(ctx); err != nil {
			b.logger.Warn().Err(err).Msg("Console SAVE not acknowledged")
		}
	}
	return landed, nil
}

// Crosspoints reads the status parameter of every destination.
func (b *Backend) Crosspoints(ctx context.Context) ([]int, error) {
	routes := make([]int, b.info.Outputs)
	for out := 1; out <= b.info.Outputs; out++ {
		p, err := b.client.get(ctx, StatusParam(out), b.timeouts.HTTPRequest)
		if err != nil {
			return nil, classify("crosspoints", err, router.PortRef{Port: out, Direction: router.Output})
		}
		in, convErr := strconv.Atoi(strings.TrimSpace(p.Value))
		if p.Null || convErr != nil || in < 1 {
			routes[out-1] = router.NoInput
			continue
		}
		routes[out-1] = in - 1
	}
	return routes, nil
}

// Switch writes the 1-based input into the destination status parameter.
func (b *Backend) Switch(ctx context.Context, output, input int) error {
	err := b.client.set(ctx, StatusParam(output+1), strconv.Itoa(input+1), b.timeouts.HTTPRequest)
	if err != nil {
		return router.NewError(router.ErrPortOperation, router.KindKumo, "switch", err,
			router.PortRef{Port: output + 1, Direction: router.Output})
	}
	return nil
}

// Close releases idle HTTP connections.
func (b *Backend) Close() error {
	b.closeOnce.Do(b.client.http.CloseIdleConnections)
	return nil
}

func (b *Backend) ports() []router.PortRef {
	refs := make([]router.PortRef, 0, b.info.Inputs+b.info.Outputs)
	for p := 1; p <= b.info.Inputs; p++ {
		refs = append(refs, router.PortRef{Port: p, Direction: router.Input})
	}
	for p := 1; p <= b.info.Outputs; p++ {
		refs = append(refs, router.PortRef{Port: p, Direction: router.Output})
	}
	return refs
}

func labelFrom(ref router.PortRef, text, source string) router.PortLabel {
	if text == "" {
		return placeholder(ref)
	}
	return router.PortLabel{Port: ref.Port, Direction: ref.Direction, Current: text, SourceNote: source}
}

func placeholder(ref router.PortRef) router.PortLabel {
	return router.PortLabel{
		Port:       ref.Port,
		Direction:  ref.Direction,
		Current:    router.DefaultLabel(ref.Direction, ref.Port),
		SourceNote: router.SourceDefault,
	}
}

// classify maps KUMO failures into the router taxonomy. HTTP has no
// persistent link to lose, so connection errors are reported as protocol
// failures and never kill the session.
func classify(op string, err error, ports ...router.PortRef) error {
	if err == nil {
		return nil
	}
	var typed *router.Error
	if errors.As(err, &typed) || errors.Is(err, context.Canceled) {
		return err
	}
	kind := router.ErrProtocol
	if router.IsTimeout(err) {
		kind = router.ErrTimeout
	}
	return router.NewError(kind, router.KindKumo, op, err, ports...)
}
