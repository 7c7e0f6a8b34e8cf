package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/config"
)

const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for a publish to complete.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the milliseconds to wait for pending
	// operations during graceful disconnect.
	defaultDisconnectQuiesce = 250

	// defaultKeepAlive is the interval for MQTT keepalive pings.
	defaultKeepAlive = 30 * time.Second

	// defaultPingTimeout is how long to wait for a ping response.
	defaultPingTimeout = 10 * time.Second
)

// buildClientOptions constructs paho client options from config.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	// Broker URL
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
	opts.AddBroker(brokerURL)

	// Client identification
	opts.SetClientID(cfg.Broker.ClientID)

	// Authentication (empty strings are valid for anonymous access)
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// TLS configuration
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	// Connection behavior
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetPingTimeout(defaultPingTimeout)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetCleanSession(false) // Durable session: broker queues QoS 1+ messages while offline

	// Auto-reconnect with exponential backoff
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	// Message ordering: preserve order within a topic
	opts.SetOrderMatters(true)

	return opts
}

// configureLWT sets up the Last Will and Testament message.
//
// The LWT is published by the broker if the service disconnects
// unexpectedly (crash, network failure). A graceful shutdown publishes
// a different offline payload and the LWT is not sent.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	topic := Topics{}.SystemStatus()
	payload := buildLWTPayload(clientID)
	opts.SetBinaryWill(topic, payload, 1, true) // QoS 1, retained
}

// statusPayload is the JSON structure for service status messages.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// buildOnlinePayload creates the payload for online status.
func buildOnlinePayload(clientID string) []byte {
	payload, _ := json.Marshal(statusPayload{
		Status:    "online",
		ClientID:  clientID,
		Timestamp: time.Now().Unix(),
	})
	return payload
}

// buildOfflinePayload creates the payload for graceful shutdown status.
func buildOfflinePayload(clientID string) []byte {
	payload, _ := json.Marshal(statusPayload{
		Status:    "offline",
		ClientID:  clientID,
		Timestamp: time.Now().Unix(),
	})
	return payload
}

// buildLWTPayload creates the Last Will payload for unexpected disconnect.
// No timestamp: the broker publishes this at an unknown future time.
func buildLWTPayload(clientID string) []byte {
	payload, _ := json.Marshal(statusPayload{
		Status:   "lost",
		ClientID: clientID,
	})
	return payload
}
