package router_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/router-agent/pkg/router"
)

func TestDetector_AutoPicksFirstHandshakeInOrder(t *testing.T) {
	// Setup
	lw := &fakeConnector{kind: router.KindLightware, port: 6107, err: errRefused}
	vh := &fakeConnector{kind: router.KindVideohub, port: 9990, backend: newFakeBackend(router.KindVideohub, 12, 12)}
	km := &fakeConnector{kind: router.KindKumo, port: 80, backend: newFakeBackend(router.KindKumo, 16, 16)}
	obs := newCountingObserver()
	d := router.NewDetector(router.Timeouts{}, obs, zerolog.Nop(), lw, vh, km)

	// Execute
	s, err := d.Connect(context.Background(), "10.0.0.5", router.KindAuto)

	// Assert
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, router.KindVideohub, s.Kind())
	assert.Equal(t, 12, s.Info().Inputs)
	assert.Equal(t, "10.0.0.5", s.Host())
	assert.Equal(t, 1, lw.calls)
	assert.Equal(t, 1, vh.calls)
	assert.Equal(t, 0, km.calls)
	assert.Equal(t, 1, obs.attempts[false])
	assert.Equal(t, 1, obs.attempts[true])
}

func TestDetector_AutoSummarisesWhenNothingAnswers(t *testing.T) {
	d := router.NewDetector(router.Timeouts{}, nil, zerolog.Nop(),
		&fakeConnector{kind: router.KindLightware, port: 6107, err: errRefused},
		&fakeConnector{kind: router.KindVideohub, port: 9990, err: errRefused},
		&fakeConnector{kind: router.KindKumo, port: 80, err: errRefused},
	)

	_, err := d.Connect(context.Background(), "10.0.0.5", router.KindAuto)

	assert.ErrorIs(t, err, router.ErrHandshake)
	assert.NotErrorIs(t, err, errRefused, "connector failures are summarised, not surfaced")
	assert.Contains(t, err.Error(), "3 of 3 attempts failed")
}

func TestDetector_ForcedKindSkipsProbing(t *testing.T) {
	lw := &fakeConnector{kind: router.KindLightware, port: 6107, backend: newFakeBackend(router.KindLightware, 8, 8)}
	km := &fakeConnector{kind: router.KindKumo, port: 80, backend: newFakeBackend(router.KindKumo, 32, 32)}
	d := router.NewDetector(router.Timeouts{}, nil, zerolog.Nop(), lw, km)

	s, err := d.Connect(context.Background(), "10.0.0.5", router.KindKumo)

	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, router.KindKumo, s.Kind())
	assert.Equal(t, 0, lw.calls)
}

func TestDetector_ForcedKindNamesSilentPort(t *testing.T) {
	d := router.NewDetector(router.Timeouts{}, nil, zerolog.Nop(),
		&fakeConnector{kind: router.KindVideohub, port: 9990, err: errRefused},
	)

	_, err := d.Connect(context.Background(), "10.0.0.5", router.KindVideohub)

	assert.ErrorIs(t, err, router.ErrHandshake)
	assert.ErrorIs(t, err, errRefused)
	assert.Contains(t, err.Error(), "port 9990")

	_, err = d.Connect(context.Background(), "10.0.0.5", router.KindLightware)
	assert.ErrorIs(t, err, router.ErrHandshake)
	assert.Contains(t, err.Error(), "not registered")
}

func TestDetector_EmptyHost(t *testing.T) {
	d := router.NewDetector(router.Timeouts{}, nil, zerolog.Nop())

	_, err := d.Connect(context.Background(), "", router.KindAuto)

	assert.ErrorIs(t, err, router.ErrHandshake)
}
