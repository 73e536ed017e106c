package router_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/router-agent/pkg/router"
)

// fakeBackend is an in-memory backend. Failures are injected per port.
type fakeBackend struct {
	mu        sync.Mutex
	info      router.DeviceInfo
	labels    map[router.PortRef]string
	routes    []int
	uploadErr map[router.PortRef]error
	routesErr error
	uploads   int
	closed    int
}

func newFakeBackend(kind router.Kind, inputs, outputs int) *fakeBackend {
	b := &fakeBackend{
		info: router.DeviceInfo{
			Kind: kind, Name: "fake", Model: "fake", Inputs: inputs, Outputs: outputs, MaxLabelLength: 20,
		},
		labels:    map[router.PortRef]string{},
		routes:    make([]int, outputs),
		uploadErr: map[router.PortRef]error{},
	}
	for i := 1; i <= inputs; i++ {
		b.labels[router.PortRef{Port: i, Direction: router.Input}] = router.DefaultLabel(router.Input, i)
	}
	for o := 1; o <= outputs; o++ {
		b.labels[router.PortRef{Port: o, Direction: router.Output}] = router.DefaultLabel(router.Output, o)
	}
	return b
}

func (b *fakeBackend) Kind() router.Kind       { return b.info.Kind }
func (b *fakeBackend) Info() router.DeviceInfo { return b.info }

func (b *fakeBackend) Download(ctx context.Context) ([]router.PortLabel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []router.PortLabel
	for i := 1; i <= b.info.Inputs; i++ {
		ref := router.PortRef{Port: i, Direction: router.Input}
		out = append(out, router.PortLabel{Port: i, Direction: router.Input, Current: b.labels[ref]})
	}
	for o := 1; o <= b.info.Outputs; o++ {
		ref := router.PortRef{Port: o, Direction: router.Output}
		out = append(out, router.PortLabel{Port: o, Direction: router.Output, Current: b.labels[ref]})
	}
	return out, nil
}

func (b *fakeBackend) UploadLabel(ctx context.Context, l router.PortLabel) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads++
	if err := b.uploadErr[l.Ref()]; err != nil {
		return err
	}
	b.labels[l.Ref()] = l.Desired
	return nil
}

func (b *fakeBackend) Crosspoints(ctx context.Context) ([]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.routesErr != nil {
		return nil, b.routesErr
	}
	return append([]int(nil), b.routes...), nil
}

func (b *fakeBackend) Switch(ctx context.Context, output, input int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[output] = input
	return nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

func (b *fakeBackend) label(ref router.PortRef) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.labels[ref]
}

// retryingBackend adds a batch retrier that lands every record except the
// ones listed in refuse.
type retryingBackend struct {
	*fakeBackend
	refuse  map[router.PortRef]bool
	batches [][]router.PortLabel
}

func (b *retryingBackend) RetryLabels(ctx context.Context, labels []router.PortLabel) ([]router.PortLabel, error) {
	b.batches = append(b.batches, labels)
	var landed []router.PortLabel
	for _, l := range labels {
		if b.refuse[l.Ref()] {
			continue
		}
		b.mu.Lock()
		b.labels[l.Ref()] = l.Desired
		b.mu.Unlock()
		landed = append(landed, l)
	}
	return landed, nil
}

// pingingBackend is a long-lived backend whose pings fail with pingErr.
type pingingBackend struct {
	*fakeBackend
	pingMu  sync.Mutex
	pingErr error
	pings   int
}

func (b *pingingBackend) Ping(ctx context.Context) error {
	b.pingMu.Lock()
	defer b.pingMu.Unlock()
	b.pings++
	return b.pingErr
}

func (b *pingingBackend) pingCount() int {
	b.pingMu.Lock()
	defer b.pingMu.Unlock()
	return b.pings
}

// fakeConnector hands out a prepared backend or fails.
type fakeConnector struct {
	kind    router.Kind
	port    int
	backend router.Backend
	err     error
	calls   int
}

func (c *fakeConnector) Kind() router.Kind { return c.kind }
func (c *fakeConnector) Port() int         { return c.port }

func (c *fakeConnector) Connect(ctx context.Context, host string, handshakeTimeout time.Duration) (router.Backend, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.backend, nil
}

// countingObserver records observer calls.
type countingObserver struct {
	mu       sync.Mutex
	attempts map[bool]int
	uploaded [2]int
	switches int
	alive    []bool
}

func newCountingObserver() *countingObserver {
	return &countingObserver{attempts: map[bool]int{}}
}

func (o *countingObserver) AttemptFinished(kind router.Kind, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts[ok]++
}

func (o *countingObserver) LabelsUploaded(kind router.Kind, succeeded, failed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.uploaded[0] += succeeded
	o.uploaded[1] += failed
}

func (o *countingObserver) CrosspointSwitched(kind router.Kind, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.switches++
}

func (o *countingObserver) SessionAlive(kind router.Kind, alive bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alive = append(o.alive, alive)
}

var errRefused = errors.New("connection refused")
