package lightware_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/router-agent/internal/routersim"
	"github.com/benmeehan/router-agent/pkg/router"
	"github.com/benmeehan/router-agent/pkg/router/lightware"
)

var fastTimeouts = router.Timeouts{
	Handshake: time.Second,
	ReplyWait: 300 * time.Millisecond,
	Keepalive: time.Hour,
}

func startMatrix(t *testing.T, inputs, outputs int) *routersim.Lightware {
	t.Helper()
	sim := routersim.NewLightware(inputs, outputs)
	require.NoError(t, sim.Start())
	t.Cleanup(sim.Close)
	return sim
}

func connect(t *testing.T, sim *routersim.Lightware) *router.Session {
	t.Helper()
	c := lightware.NewConnector(lightware.Config{Port: sim.Port(), Timeouts: fastTimeouts}, zerolog.Nop())
	d := router.NewDetector(fastTimeouts, nil, zerolog.Nop(), c)
	s, err := d.Connect(context.Background(), routersim.Host, router.KindAuto)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConnect_Identity(t *testing.T) {
	sim := startMatrix(t, 8, 4)

	s := connect(t, sim)

	info := s.Info()
	assert.Equal(t, router.KindLightware, info.Kind)
	assert.Equal(t, "MX2-8x8-HDMI20", info.Model)
	assert.Equal(t, "2.6.1b3", info.Firmware)
	assert.Equal(t, 8, info.Inputs)
	assert.Equal(t, 4, info.Outputs)
	assert.Equal(t, lightware.MaxLabelLength, info.MaxLabelLength)
}

func TestConnect_DefaultCounts(t *testing.T) {
	sim := startMatrix(t, 4, 4)
	sim.OmitCounts = true

	s := connect(t, sim)

	assert.Equal(t, lightware.DefaultPortCount, s.Info().Inputs)
	assert.Equal(t, lightware.DefaultPortCount, s.Info().Outputs)
}

// TestTransactionIDs verifies the 4-digit framing and the rolling counter.
func TestTransactionIDs(t *testing.T) {
	sim := startMatrix(t, 4, 4)
	s := connect(t, sim)

	_, err := s.Download(context.Background())
	require.NoError(t, err)

	reqs := sim.Requests()
	require.GreaterOrEqual(t, len(reqs), 5)
	assert.Equal(t, "0001#GET /.ProductName", reqs[0])
	for i, r := range reqs {
		assert.Regexp(t, `^\d{4}#`, r)
		assert.True(t, strings.HasPrefix(r, fmt.Sprintf("%04d#", i+1)), r)
	}
	assert.Equal(t, fmt.Sprintf("%04d#GET /MEDIA/NAMES/VIDEO.*", len(reqs)), reqs[len(reqs)-1])
}

// TestExchange_DiscardsMismatchedBlock verifies a block carrying another
// transaction id never leaks into the result.
func TestExchange_DiscardsMismatchedBlock(t *testing.T) {
	sim := startMatrix(t, 4, 4)
	s := connect(t, sim)
	sim.SendStrayBlocks(1)

	labels, err := s.Download(context.Background())

	require.NoError(t, err)
	require.Len(t, labels, 8)
	assert.Equal(t, "Input 1", labels[0].Current)
	assert.Equal(t, router.SourceLW3, labels[0].SourceNote)

	m, err := s.GetCrosspoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, router.CrosspointMap{router.NoInput, router.NoInput, router.NoInput, router.NoInput}, m)
}

func TestRoundTrip(t *testing.T) {
	sim := startMatrix(t, 4, 4)
	s := connect(t, sim)
	ctx := context.Background()

	first, err := s.Download(ctx)
	require.NoError(t, err)
	for i := range first {
		first[i].Desired = first[i].Current + " *"
	}

	res, err := s.Upload(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 8, res.SucceededCount())

	second, err := s.Download(ctx)
	require.NoError(t, err)
	for i := range second {
		assert.Equal(t, first[i].Desired, second[i].Current)
		assert.Equal(t, first[i].Port, second[i].Port, "ports are 1-based on both sides")
	}
	assert.Equal(t, "Output 3 *", sim.Name(true, 3))
}

func TestUpload_ErrorPrefixFailsRecord(t *testing.T) {
	sim := startMatrix(t, 4, 4)
	s := connect(t, sim)
	sim.FailSet("/MEDIA/NAMES/VIDEO.I2")

	res, err := s.Upload(context.Background(), []router.PortLabel{
		{Port: 1, Direction: router.Input, Desired: "One"},
		{Port: 2, Direction: router.Input, Desired: "Two"},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, res.SucceededCount())
	require.Equal(t, 1, res.FailedCount())
	assert.Equal(t, 2, res.Failed[0].Label.Port)
	assert.ErrorIs(t, res.Failed[0].Err, router.ErrPortOperation)
	assert.Equal(t, "Input 2", sim.Name(false, 2))
}

func TestCrosspointsAndSwitch(t *testing.T) {
	sim := startMatrix(t, 4, 4)
	s := connect(t, sim)
	ctx := context.Background()

	ok, err := s.Switch(ctx, 0, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, sim.Route(1))

	m, err := s.GetCrosspoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, router.CrosspointMap{2, router.NoInput, router.NoInput, router.NoInput}, m)
}

func TestGetCrosspoints_Timeout(t *testing.T) {
	sim := startMatrix(t, 4, 4)
	s := connect(t, sim)
	sim.SetSilent(true)

	start := time.Now()
	_, err := s.GetCrosspoints(context.Background())

	assert.ErrorIs(t, err, router.ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTransportLossKillsSession(t *testing.T) {
	sim := startMatrix(t, 4, 4)
	s := connect(t, sim)
	sim.DropClients()

	_, err := s.Download(context.Background())

	assert.ErrorIs(t, err, router.ErrTransportLost)
	assert.False(t, s.Alive())
}
