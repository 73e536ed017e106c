package mqtt_middleware

import (
	"fmt"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Chain wraps handler so that middlewares[0] sees every message first.
func Chain(handler mqttLib.MessageHandler, middlewares ...Middleware) mqttLib.MessageHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// Recover logs a panic raised by the wrapped handler instead of letting it
// reach the paho router goroutine.
func Recover(logger zerolog.Logger) Middleware {
	return func(next mqttLib.MessageHandler) mqttLib.MessageHandler {
		return func(client mqttLib.Client, msg mqttLib.Message) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Str("topic", msg.Topic()).Str("panic", fmt.Sprint(r)).Msg("MQTT handler panicked")
				}
			}()
			next(client, msg)
		}
	}
}

// MaxPayload drops messages larger than limit bytes.
func MaxPayload(limit int, logger zerolog.Logger) Middleware {
	return func(next mqttLib.MessageHandler) mqttLib.MessageHandler {
		return func(client mqttLib.Client, msg mqttLib.Message) {
			if size := len(msg.Payload()); size > limit {
				logger.Warn().Str("topic", msg.Topic()).Int("size", size).Int("limit", limit).Msg("Dropping oversized MQTT message")
				return
			}
			next(client, msg)
		}
	}
}

// Logging records every delivered message at debug level.
func Logging(logger zerolog.Logger) Middleware {
	return func(next mqttLib.MessageHandler) mqttLib.MessageHandler {
		return func(client mqttLib.Client, msg mqttLib.Message) {
			logger.Debug().Str("topic", msg.Topic()).Int("size", len(msg.Payload())).Msg("MQTT message received")
			next(client, msg)
		}
	}
}
