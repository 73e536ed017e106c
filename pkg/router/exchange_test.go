package router_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/router-agent/pkg/router"
)

func newTestSession(b router.Backend) *router.Session {
	return router.NewSession(b, router.SessionConfig{Host: "10.0.0.1", Logger: zerolog.Nop()})
}

func tenChanges() []router.PortLabel {
	labels := make([]router.PortLabel, 0, 10)
	for i := 1; i <= 10; i++ {
		labels = append(labels, router.PortLabel{
			Port:      i,
			Direction: router.Input,
			Current:   router.DefaultLabel(router.Input, i),
			Desired:   fmt.Sprintf("Cam %d", i),
		})
	}
	return labels
}

// TestUpload_SkipsUnchangedRecords verifies empty and unchanged values are
// never sent.
func TestUpload_SkipsUnchangedRecords(t *testing.T) {
	// Setup
	backend := newFakeBackend(router.KindLightware, 4, 4)
	s := newTestSession(backend)
	defer s.Close()

	labels := []router.PortLabel{
		{Port: 1, Direction: router.Input, Current: "Cam 1", Desired: ""},
		{Port: 2, Direction: router.Input, Current: "Cam 2", Desired: "Cam 2"},
		{Port: 3, Direction: router.Input, Current: "Cam 3", Desired: "Wide"},
	}

	// Execute
	res, err := s.Upload(context.Background(), labels)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, backend.uploads)
	assert.Equal(t, 1, res.SucceededCount())
	assert.Equal(t, 0, res.FailedCount())
	assert.Equal(t, "Wide", backend.label(router.PortRef{Port: 3, Direction: router.Input}))
}

// TestUpload_RejectsInvalidRecords verifies range and length checks happen
// before any I/O.
func TestUpload_RejectsInvalidRecords(t *testing.T) {
	backend := newFakeBackend(router.KindLightware, 4, 4)
	s := newTestSession(backend)
	defer s.Close()

	labels := []router.PortLabel{
		{Port: 9, Direction: router.Input, Desired: "Nowhere"},
		{Port: 1, Direction: router.Output, Desired: "A label that is far too long"},
	}

	res, err := s.Upload(context.Background(), labels)

	require.NoError(t, err)
	assert.Equal(t, 0, backend.uploads)
	assert.Equal(t, 2, res.FailedCount())
	for _, f := range res.Failed {
		assert.ErrorIs(t, f.Err, router.ErrPortOperation)
	}
	assert.ErrorIs(t, res.Err(router.KindLightware), router.ErrPortOperation)
}

// TestUpload_PartialFailureWithoutRetrier reports exactly the records the
// device refused.
func TestUpload_PartialFailureWithoutRetrier(t *testing.T) {
	backend := newFakeBackend(router.KindLightware, 16, 16)
	refused := router.NewError(router.ErrPortOperation, router.KindLightware, "upload", errors.New("pE"))
	backend.uploadErr[router.PortRef{Port: 3, Direction: router.Input}] = refused
	backend.uploadErr[router.PortRef{Port: 7, Direction: router.Input}] = refused
	s := newTestSession(backend)
	defer s.Close()

	res, err := s.Upload(context.Background(), tenChanges())

	require.NoError(t, err)
	assert.Equal(t, 8, res.SucceededCount())
	assert.Equal(t, 2, res.FailedCount())
	assert.ElementsMatch(t, []router.PortRef{
		{Port: 3, Direction: router.Input},
		{Port: 7, Direction: router.Input},
	}, res.FailedPorts())

	var typed *router.Error
	require.ErrorAs(t, res.Err(router.KindLightware), &typed)
	assert.Len(t, typed.Ports, 2)
	assert.True(t, s.Alive())
}

// TestUpload_BatchRetryRecoversFailures verifies failed records are retried
// once as a single batch and only never-landed records stay failed.
func TestUpload_BatchRetryRecoversFailures(t *testing.T) {
	fb := newFakeBackend(router.KindKumo, 16, 16)
	refused := router.NewError(router.ErrPortOperation, router.KindKumo, "upload", errors.New("HTTP 500"))
	fb.uploadErr[router.PortRef{Port: 3, Direction: router.Input}] = refused
	fb.uploadErr[router.PortRef{Port: 7, Direction: router.Input}] = refused
	backend := &retryingBackend{
		fakeBackend: fb,
		refuse:      map[router.PortRef]bool{{Port: 7, Direction: router.Input}: true},
	}
	s := newTestSession(backend)
	defer s.Close()

	res, err := s.Upload(context.Background(), tenChanges())

	require.NoError(t, err)
	require.Len(t, backend.batches, 1)
	assert.Len(t, backend.batches[0], 2)
	assert.Equal(t, 9, res.SucceededCount())
	require.Equal(t, 1, res.FailedCount())
	assert.Equal(t, 7, res.Failed[0].Label.Port)
	assert.Equal(t, "Cam 3", fb.label(router.PortRef{Port: 3, Direction: router.Input}))
}

// TestUpload_TransportLossStopsAndKillsSession keeps completed records and
// fails the rest.
func TestUpload_TransportLossStopsAndKillsSession(t *testing.T) {
	backend := newFakeBackend(router.KindLightware, 16, 16)
	lost := router.NewError(router.ErrTransportLost, router.KindLightware, "upload", errors.New("EOF"))
	backend.uploadErr[router.PortRef{Port: 4, Direction: router.Input}] = lost
	s := newTestSession(backend)
	defer s.Close()

	res, err := s.Upload(context.Background(), tenChanges())

	assert.ErrorIs(t, err, router.ErrTransportLost)
	assert.Equal(t, 3, res.SucceededCount())
	assert.Equal(t, 7, res.FailedCount())
	assert.False(t, s.Alive())
	select {
	case <-s.Dead():
	default:
		t.Fatal("dead channel not closed")
	}

	_, err = s.Download(context.Background())
	assert.ErrorIs(t, err, router.ErrTransportLost)
}

// TestUpload_CancelledContextKeepsCompletedRecords verifies nothing is sent
// after cancellation.
func TestUpload_CancelledContextKeepsCompletedRecords(t *testing.T) {
	backend := newFakeBackend(router.KindLightware, 16, 16)
	s := newTestSession(backend)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.Upload(ctx, tenChanges())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, backend.uploads)
	assert.Equal(t, 10, res.FailedCount())
}

// TestUpload_ReportsToObserver verifies the counters seen by metrics.
func TestUpload_ReportsToObserver(t *testing.T) {
	backend := newFakeBackend(router.KindLightware, 16, 16)
	backend.uploadErr[router.PortRef{Port: 1, Direction: router.Input}] =
		router.NewError(router.ErrPortOperation, router.KindLightware, "upload", errors.New("pE"))
	obs := newCountingObserver()
	s := router.NewSession(backend, router.SessionConfig{Host: "h", Observer: obs, Logger: zerolog.Nop()})
	defer s.Close()

	_, err := s.Upload(context.Background(), tenChanges())

	require.NoError(t, err)
	assert.Equal(t, [2]int{9, 1}, obs.uploaded)
}
