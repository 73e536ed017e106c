package mqtt_middleware

import mqttLib "github.com/eclipse/paho.mqtt.golang"

// Middleware wraps an MQTT message handler.
type Middleware func(next mqttLib.MessageHandler) mqttLib.MessageHandler
