package videohub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/router-agent/pkg/lineconn"
	"github.com/benmeehan/router-agent/pkg/router"
)

// MaxLabelLength is the longest label the Videohub protocol carries.
const MaxLabelLength = 255

var errNAK = errors.New("device answered NAK")

// ackOutcome is the device's answer to a written block.
type ackOutcome int

const (
	ackReceived ackOutcome = iota
	ackNAK
	ackTimeout
)

// Backend keeps one long-lived connection to a Videohub. Labels and
// routing are served from the state the device pushes; writes are whole
// blocks acknowledged with ACK or NAK.
type Backend struct {
	conn     *lineconn.Conn
	parser   Parser
	state    *State
	info     router.DeviceInfo
	timeouts router.Timeouts
	logger   zerolog.Logger
}

func (b *Backend) Kind() router.Kind       { return router.KindVideohub }
func (b *Backend) Info() router.DeviceInfo { return b.info }

// Download returns the labels captured from the device dump and from any
// label blocks pushed since. No request is sent.
func (b *Backend) Download(ctx context.Context) ([]router.PortLabel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.state.Labels(b.info), nil
}

// UploadLabel writes a single label as a one-line block.
func (b *Backend) UploadLabel(ctx context.Context, label router.PortLabel) error {
	res, err := b.UploadLabels(ctx, []router.PortLabel{label})
	if err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		return res.Failed[0].Err
	}
	return nil
}

// UploadLabels writes one block per direction. A block lands or fails as a
// whole; a NAK'd block is sent once more. A block the device never
// acknowledges is counted as succeeded and listed in Unconfirmed, since
// some firmware does not acknowledge label writes.
func (b *Backend) UploadLabels(ctx context.Context, labels []router.PortLabel) (router.UploadResult, error) {
	var res router.UploadResult
	groups := map[router.Direction][]router.PortLabel{}
	for _, l := range labels {
		if strings.ContainsAny(l.Desired, "\r\n") {
			res.Failed = append(res.Failed, router.LabelFailure{Label: l,
				Err: router.Errorf(router.ErrPortOperation, router.KindVideohub, "upload", "label contains a line break")})
			continue
		}
		groups[l.Direction] = append(groups[l.Direction], l)
	}

	for _, dir := range []router.Direction{router.Input, router.Output} {
		group := groups[dir]
		if len(group) == 0 {
			continue
		}
		outcome, err := b.writeLabelBlock(ctx, dir, group)
		if err != nil {
			res.Failed = append(res.Failed, failAll(group, err)...)
			if dir == router.Input {
				res.Failed = append(res.Failed, failAll(groups[router.Output], err)...)
			}
			return res, err
		}
		switch outcome {
		case ackNAK:
			perr := router.NewError(router.ErrPortOperation, router.KindVideohub, "upload", errNAK, refs(group)...)
			res.Failed = append(res.Failed, failAll(group, perr)...)
			continue
		case ackTimeout:
			b.logger.Warn().Stringer("direction", dir).Int("labels", len(group)).Msg("Label block not acknowledged, assuming it landed")
			res.Unconfirmed = append(res.Unconfirmed, group...)
		}
		b.remember(dir, group)
		res.Succeeded = append(res.Succeeded, group...)
	}
	return res, nil
}

// writeLabelBlock sends a label block and resends it once on NAK.
func (b *Backend) writeLabelBlock(ctx context.Context, dir router.Direction, group []router.PortLabel) (ackOutcome, error) {
	header := BlockInputLabels
	if dir == router.Output {
		header = BlockOutputLabels
	}
	lines := make([]string, 0, len(group))
	for _, l := range group {
		lines = append(lines, fmt.Sprintf("%d %s", l.Port-1, l.Desired))
	}

	var outcome ackOutcome
	for attempt := 1; attempt <= 2; attempt++ {
		if err := b.writeBlock(ctx, header, lines); err != nil {
			return 0, router.Classify(router.KindVideohub, "upload", err)
		}
		var err error
		outcome, err = b.awaitAck(ctx, b.timeouts.AckWait)
		if err != nil {
			return 0, router.Classify(router.KindVideohub, "upload", err)
		}
		if outcome != ackNAK {
			return outcome, nil
		}
		b.logger.Warn().Str("block", header).Int("attempt", attempt).Msg("Label block refused")
	}
	return outcome, nil
}

// Crosspoints asks the device for its routing block and waits for the
// block that follows the ACK. Routing blocks already queued before the ACK
// are applied but do not end the wait. A routing block left open when the
// device goes quiet is taken as complete.
func (b *Backend) Crosspoints(ctx context.Context) ([]int, error) {
	start := b.state.RoutingUpdates
	if err := b.writeBlock(ctx, BlockRouting, nil); err != nil {
		return nil, router.Classify(router.KindVideohub, "crosspoints", err)
	}
	deadline := time.Now().Add(b.timeouts.ReplyWait)
	acked := false
	atAck := 0
	for !acked || b.state.RoutingUpdates == atAck {
		status, err := b.readOnce(ctx, deadline)
		if err != nil {
			if lineconn.IsTimeout(err) && ctx.Err() == nil {
				// A block the device never closed with a blank line is complete.
				if blk := b.parser.Flush(); blk != nil {
					b.state.Apply(*blk)
				}
				if b.state.RoutingUpdates > start {
					if !acked {
						b.logger.Debug().Msg("Routing request not acknowledged, using pushed routing")
					}
					break
				}
			}
			return nil, router.Classify(router.KindVideohub, "crosspoints", err)
		}
		switch status {
		case lineACK:
			if !acked {
				acked, atAck = true, b.state.RoutingUpdates
			}
		case lineNAK:
			return nil, router.NewError(router.ErrProtocol, router.KindVideohub, "crosspoints", errNAK)
		}
	}
	return b.state.Crosspoints(b.info.Outputs), nil
}

// Switch writes a one-line routing block. Both indices are 0-based on the
// wire as well.
func (b *Backend) Switch(ctx context.Context, output, input int) error {
	line := fmt.Sprintf("%d %d", output, input)
	if err := b.writeBlock(ctx, BlockRouting, []string{line}); err != nil {
		return router.Classify(router.KindVideohub, "switch", err)
	}
	outcome, err := b.awaitAck(ctx, b.timeouts.AckWait)
	if err != nil {
		return router.Classify(router.KindVideohub, "switch", err)
	}
	port := router.PortRef{Port: output + 1, Direction: router.Output}
	switch outcome {
	case ackNAK:
		return router.NewError(router.ErrPortOperation, router.KindVideohub, "switch", errNAK, port)
	case ackTimeout:
		b.logger.Warn().Int("output", output).Int("input", input).Msg("Routing block not acknowledged, assuming it landed")
	}
	b.state.Routing[output] = input
	return nil
}

// Ping sends the no-op block and waits for its ACK.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.writeBlock(ctx, BlockPing, nil); err != nil {
		return router.Classify(router.KindVideohub, "ping", err)
	}
	outcome, err := b.awaitAck(ctx, b.timeouts.ReplyWait)
	if err != nil {
		return router.Classify(router.KindVideohub, "ping", err)
	}
	if outcome == ackTimeout {
		return router.Errorf(router.ErrTimeout, router.KindVideohub, "ping", "no ACK within %s", b.timeouts.ReplyWait)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.conn.Close()
}

// writeBlock sends a header, its lines and the terminating blank line.
func (b *Backend) writeBlock(ctx context.Context, header string, lines []string) error {
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString(":\n")
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	return b.conn.Write(ctx, sb.String(), b.timeouts.ReplyWait)
}

// awaitAck reads until ACK or NAK. Blocks pushed meanwhile update the
// state. Running out of time is reported as ackTimeout, not as an error.
func (b *Backend) awaitAck(ctx context.Context, wait time.Duration) (ackOutcome, error) {
	deadline := time.Now().Add(wait)
	for {
		status, err := b.readOnce(ctx, deadline)
		if err != nil {
			if lineconn.IsTimeout(err) && ctx.Err() == nil {
				return ackTimeout, nil
			}
			return 0, err
		}
		switch status {
		case lineACK:
			return ackReceived, nil
		case lineNAK:
			return ackNAK, nil
		}
	}
}

// readOnce reads one line, applies any completed block and returns the
// status line if the line was one.
func (b *Backend) readOnce(ctx context.Context, deadline time.Time) (string, error) {
	line, err := b.conn.ReadLineUntil(ctx, deadline)
	if err != nil {
		return "", err
	}
	blocks, loose := b.parser.Feed(line)
	for _, blk := range blocks {
		b.state.Apply(blk)
	}
	if loose != "" && loose != lineACK && loose != lineNAK {
		b.logger.Debug().Str("line", loose).Msg("Ignoring line outside any block")
		return "", nil
	}
	return loose, nil
}

func (b *Backend) remember(dir router.Direction, group []router.PortLabel) {
	names := b.state.InputLabels
	if dir == router.Output {
		names = b.state.OutputLabels
	}
	for _, l := range group {
		names[l.Port-1] = l.Desired
	}
}

func failAll(labels []router.PortLabel, err error) []router.LabelFailure {
	out := make([]router.LabelFailure, 0, len(labels))
	for _, l := range labels {
		out = append(out, router.LabelFailure{Label: l, Err: err})
	}
	return out
}

func refs(labels []router.PortLabel) []router.PortRef {
	out := make([]router.PortRef, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.Ref())
	}
	return out
}
