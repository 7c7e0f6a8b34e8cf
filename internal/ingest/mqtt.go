package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqttinfra "github.com/nimbus-iot/nimbus-core/internal/infrastructure/mqtt"
	"github.com/nimbus-iot/nimbus-core/internal/registry"
)

// MessageBus is the broker surface the ingest bindings need.
// Satisfied by the mqtt infrastructure client.
type MessageBus interface {
	Subscribe(topic string, handler mqttinfra.MessageHandler) error
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Bindings attaches the pipeline to the broker: telemetry ingress and
// firmware check-ins in, device commands out.
type Bindings struct {
	router         *Router
	store          *registry.Store
	bus            MessageBus
	latestFirmware string
	log            Logger
}

// NewBindings creates the broker bindings.
//
// Parameters:
//   - router: Telemetry pipeline entry point
//   - store: Device registry (firmware check-ins)
//   - bus: Broker client
//   - latestFirmware: Expected firmware release ("" disables the check)
//   - log: Logger (nil for silent operation)
func NewBindings(router *Router, store *registry.Store, bus MessageBus, latestFirmware string, log Logger) *Bindings {
	if log == nil {
		log = noopLogger{}
	}
	return &Bindings{
		router:         router,
		store:          store,
		bus:            bus,
		latestFirmware: latestFirmware,
		log:            log,
	}
}

// Bind subscribes to the ingress topics. The given context bounds the
// per-message work of every handler invocation.
func (b *Bindings) Bind(ctx context.Context) error {
	topics := mqttinfra.Topics{}

	if err := b.bus.Subscribe(topics.DataIngress(), func(topic string, payload []byte) error {
		return b.handleTelemetry(ctx, topic, payload)
	}); err != nil {
		return fmt.Errorf("subscribing to telemetry ingress: %w", err)
	}

	if err := b.bus.Subscribe(topics.VersionIngress(), func(topic string, payload []byte) error {
		return b.handleVersionCheckin(ctx, topic, payload)
	}); err != nil {
		return fmt.Errorf("subscribing to version ingress: %w", err)
	}

	return nil
}

// handleTelemetry routes one telemetry message through the pipeline.
func (b *Bindings) handleTelemetry(ctx context.Context, topic string, payload []byte) error {
	deviceID := mqttinfra.DeviceIDFromTopic(topic)
	if deviceID == "" {
		return fmt.Errorf("%w: no device segment in topic %q", ErrMalformedInput, topic)
	}

	result := b.router.Handle(ctx, deviceID, payload)
	if result.Retryable() {
		// Surface transient failures to the handler wrapper so they are
		// logged; the broker session redelivers QoS 1 traffic.
		return fmt.Errorf("transient failure handling telemetry for %s: %s", deviceID, result.Reason)
	}
	return nil
}

// commandMessage is the wire shape of service-to-device commands.
type commandMessage struct {
	Type      string `json:"type"`
	Epoch     int64  `json:"epoch,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Latest    string `json:"latest,omitempty"`
}

// handleVersionCheckin records a reported firmware version and answers
// with a time-sync so the device can discipline its clock. A device on
// an old release also gets an update notice; actually shipping the
// firmware is someone else's job.
func (b *Bindings) handleVersionCheckin(ctx context.Context, topic string, payload []byte) error {
	deviceID := mqttinfra.DeviceIDFromTopic(topic)
	if deviceID == "" {
		return fmt.Errorf("%w: no device segment in topic %q", ErrMalformedInput, topic)
	}

	msg, err := parseVersionCheckin(deviceID, payload)
	if err != nil {
		b.log.Warn("rejecting malformed check-in", "device_id", deviceID, "error", err)
		return err
	}

	if err := b.store.SetFirmwareVersion(ctx, deviceID, msg.Version); err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			b.log.Debug("check-in from unknown device", "device_id", deviceID)
			return nil
		}
		return fmt.Errorf("recording firmware version for %s: %w", deviceID, err)
	}

	now := time.Now().UTC()
	if err := b.publishCommand(ctx, deviceID, commandMessage{
		Type:      "time_sync",
		Epoch:     now.Unix(),
		Timestamp: now.Format(time.RFC3339),
	}); err != nil {
		return err
	}

	if b.latestFirmware != "" && msg.Version != b.latestFirmware {
		b.log.Info("device on outdated firmware",
			"device_id", deviceID,
			"reported", msg.Version,
			"latest", b.latestFirmware,
		)
		if err := b.publishCommand(ctx, deviceID, commandMessage{
			Type:   "update_notice",
			Latest: b.latestFirmware,
		}); err != nil {
			return err
		}
	}

	return nil
}

// publishCommand sends one command message to a device.
func (b *Bindings) publishCommand(ctx context.Context, deviceID string, cmd commandMessage) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	topic := mqttinfra.Topics{}.DeviceCommand(deviceID)
	if err := b.bus.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("publishing %s command to %s: %w", cmd.Type, deviceID, err)
	}
	return nil
}
