package services_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/router-agent/internal/mocks"
	"github.com/benmeehan/router-agent/internal/routersim"
	"github.com/benmeehan/router-agent/pkg/router"
	"github.com/benmeehan/router-agent/pkg/router/videohub"
)

var simTimeouts = router.Timeouts{
	Handshake: time.Second,
	AckWait:   300 * time.Millisecond,
	ReplyWait: 300 * time.Millisecond,
	DumpIdle:  100 * time.Millisecond,
	Keepalive: time.Hour,
}

type published struct {
	topic   string
	payload []byte
}

// recordingClient returns an MQTT mock that records every publish.
func recordingClient() (*mocks.MockMQTTClient, chan published) {
	client := new(mocks.MockMQTTClient)
	ch := make(chan published, 256)
	client.On("Publish", mock.Anything, mock.Anything, false, mock.Anything).
		Run(func(args mock.Arguments) {
			ch <- published{topic: args.String(0), payload: args.Get(3).([]byte)}
		}).
		Return(mocks.NewCompletedToken(nil))
	return client, ch
}

// waitPublished returns the first message on topic that decodes into out
// and satisfies match.
func waitPublished[T any](t *testing.T, ch chan published, topic string, match func(T) bool) T {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case p := <-ch:
			if p.topic != topic {
				continue
			}
			var out T
			require.NoError(t, json.Unmarshal(p.payload, &out))
			if match == nil || match(out) {
				return out
			}
		case <-deadline:
			t.Fatalf("no matching message on %s", topic)
		}
	}
}

func startVideohub(t *testing.T) *routersim.Videohub {
	t.Helper()
	sim := routersim.NewVideohub(4, 4)
	require.NoError(t, sim.Start())
	t.Cleanup(sim.Close)
	return sim
}

func videohubDetector(sim *routersim.Videohub) *router.Detector {
	c := videohub.NewConnector(videohub.Config{Port: sim.Port(), Timeouts: simTimeouts}, zerolog.Nop())
	return router.NewDetector(simTimeouts, nil, zerolog.Nop(), c)
}

func videohubSession(t *testing.T, sim *routersim.Videohub) *router.Session {
	t.Helper()
	s, err := videohubDetector(sim).Connect(context.Background(), routersim.Host, router.KindVideohub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
