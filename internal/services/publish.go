package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/benmeehan/router-agent/pkg/mqtt"
	"github.com/benmeehan/router-agent/pkg/router"
)

// publishTimeout bounds a publish made after the service context is gone.
const publishTimeout = 5 * time.Second

// publishJSON serialises v and publishes it, waiting for the broker
// acknowledgement or ctx.
func publishJSON(ctx context.Context, client mqtt.MQTTClient, topic string, qos int, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize message for %s: %w", topic, err)
	}

	token := client.Publish(topic, byte(qos), false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// backoffDelay returns the wait before retry attempt (0-based): exponential
// growth from base, capped at limit, with jitter between 75% and 125%.
func backoffDelay(attempt int, base, limit time.Duration) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := base * time.Duration(1<<uint(attempt))
	if delay > limit || delay <= 0 {
		delay = limit
	}
	jitter := time.Duration(float64(delay) * (rand.Float64() * 0.5))
	return time.Duration(float64(delay)*0.75) + jitter
}

// sleepCtx waits for d; it returns false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// errorKind names the error class carried in MQTT payloads.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errInvalidRequest):
		return "invalid_request"
	case errors.Is(err, errNotConnected):
		return "not_connected"
	case errors.Is(err, errBusy):
		return "busy"
	case errors.Is(err, router.ErrHandshake):
		return "handshake"
	case errors.Is(err, router.ErrPortOperation):
		return "port_operation"
	case errors.Is(err, router.ErrTransportLost):
		return "transport_lost"
	case errors.Is(err, router.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, router.ErrProtocol):
		return "protocol"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "internal"
}
