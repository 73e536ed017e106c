package lightware

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

// MaxLabelLength is the longest port name accepted by LW3 matrices.
const MaxLabelLength = 32

// Backend speaks LW3 over one long-lived connection. Requests are strictly
// sequential; every reply is matched to its request by transaction id.
type Backend struct {
	conn     *lineconn.Conn
	seq      int
	info     router.DeviceInfo
	timeouts router.Timeouts
	logger   zerolog.Logger
}

func (b *Backend) Kind() router.Kind       { return router.KindLightware }
func (b *Backend) Info() router.DeviceInfo { return b.info }

// Download fetches every name with one wildcard GET.
func (b *Backend) Download(ctx context.Context) ([]router.PortLabel, error) {
	lines, err := b.exchange(ctx, "GET "+PathNames+".*", b.timeouts.ReplyWait)
	if err != nil {
		return nil, router.Classify(router.KindLightware, "download", err)
	}
	if msg, bad := replyError(lines); bad {
		return nil, router.Errorf(router.ErrProtocol, router.KindLightware, "download", "device error: %s", msg)
	}

	inputs, outputs := parseNames(lines)
	labels := make([]router.PortLabel, 0, b.info.Inputs+b.info.Outputs)
	labels = appendLabels(labels, router.Input, b.info.Inputs, inputs)
	return appendLabels(labels, router.Output, b.info.Outputs, outputs), nil
}

// UploadLabel sets one name. LW3 has no bulk SET.
func (b *Backend) UploadLabel(ctx context.Context, label router.PortLabel) error {
	if strings.ContainsAny(label.Desired, "\r\n") {
		return router.Errorf(router.ErrPortOperation, router.KindLightware, "upload", "label contains a line break")
	}
	cmd := fmt.Sprintf("SET %s=%s", namePath(label.Direction, label.Port), label.Desired)
	lines, err := b.exchange(ctx, cmd, b.timeouts.ReplyWait)
	if err != nil {
		return router.Classify(router.KindLightware, "upload", err)
	}
	if msg, bad := replyError(lines); bad {
		return router.NewError(router.ErrPortOperation, router.KindLightware, "upload", errors.New(msg), label.Ref())
	}
	return nil
}

// Crosspoints reads the destination connection list.
func (b *Backend) Crosspoints(ctx context.Context) ([]int, error) {
	lines, err := b.exchange(ctx, "GET "+PathConnectionList, b.timeouts.ReplyWait)
	if err != nil {
		return nil, router.Classify(router.KindLightware, "crosspoints", err)
	}
	value, ok := propertyValue(lines, PathConnectionList)
	if !ok {
		return nil, router.Errorf(router.ErrProtocol, router.KindLightware, "crosspoints", "reply carried no connection list")
	}
	routes, err := parseConnections(value, b.info.Outputs)
	if err != nil {
		return nil, router.NewError(router.ErrProtocol, router.KindLightware, "crosspoints", err)
	}
	return routes, nil
}

// Switch calls the crosspoint switch method with 1-based ports.
func (b *Backend) Switch(ctx context.Context, output, input int) error {
	lines, err := b.exchange(ctx, switchCommand(output+1, input+1), b.timeouts.ReplyWait)
	if err != nil {
		return router.Classify(router.KindLightware, "switch", err)
	}
	if msg, bad := replyError(lines); bad {
		return router.NewError(router.ErrPortOperation, router.KindLightware, "switch", errors.New(msg),
			router.PortRef{Port: output + 1, Direction: router.Output})
	}
	return nil
}

// Ping re-reads the product name.
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.exchange(ctx, "GET "+PathProductName, b.timeouts.ReplyWait)
	return router.Classify(router.KindLightware, "ping", err)
}

func (b *Backend) Close() error {
	return b.conn.Close()
}

func (b *Backend) nextID() int {
	b.seq = b.seq%maxTransactionID + 1
	return b.seq
}

// exchange sends one framed command and returns the lines of its reply
// block. Everything before the opening line carrying the same id is
// discarded, including whole blocks answering earlier requests. One
// deadline covers the whole reply.
func (b *Backend) exchange(ctx context.Context, command string, wait time.Duration) ([]string, error) {
	id := b.nextID()
	if err := b.conn.Write(ctx, frame(id, command), wait); err != nil {
		return nil, err
	}

	tag := openTag(id)
	deadline := time.Now().Add(wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var lines []string
	open := false
	for {
		line, err := b.conn.ReadLineUntil(ctx, deadline)
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(line)
		if !open {
			if opensReply(trimmed, tag) {
				open = true
			} else if trimmed != "" {
				b.logger.Debug().Str("line", trimmed).Str("want", tag).Msg("Discarding unmatched line")
			}
			continue
		}
		if trimmed == "}" {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

func appendLabels(labels []router.PortLabel, dir router.Direction, count int, names map[int]string) []router.PortLabel {
	for port := 1; port <= count; port++ {
		l := router.PortLabel{Port: port, Direction: dir, SourceNote: router.SourceLW3}
		if text, ok := names[port]; ok {
			l.Current = text
		} else {
			l.Current = router.DefaultLabel(dir, port)
			l.SourceNote = router.SourceDefault
		}
		labels = append(labels, l)
	}
	return labels
}
