// Package actuation pushes relay commands to devices over MQTT and listens
// for the state reports they send back. Commands are fire-and-forget at the
// transport level; delivery confirmation happens end to end, through the
// device reporting its new state.
package actuation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/config"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds, paho API takes a uint
)

// Liveness answers whether a device has reported recently enough to be
// trusted with a turn-on command.
type Liveness interface {
	Alive(ctx context.Context, deviceID string) bool
}

// MessageHandler receives state report payloads for a single device.
type MessageHandler func(deviceID string, payload []byte)

// Channel is the MQTT command path to the fleet.
type Channel struct {
	qos      byte
	liveness Liveness
	logger   *zap.Logger

	client mqtt.Client

	// publish is swappable so in-package tests can capture outbound
	// messages without a broker.
	publish func(topic string, payload []byte) error

	// stateHandler is re-registered with the broker on every reconnect.
	stateHandler MessageHandler
	handlerMu    sync.RWMutex
}

// NewChannel builds the channel and registers lifecycle hooks that connect
// to the broker on start and disconnect on stop. The state report
// subscription survives reconnects.
func NewChannel(lc fx.Lifecycle, cfg config.MQTTConfig, liveness Liveness, logger *zap.Logger) *Channel {
	ch := &Channel{
		qos:      byte(cfg.QoS),
		liveness: liveness,
		logger:   logger,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.BrokerURL))
		ch.resubscribe(client)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	ch.client = mqtt.NewClient(opts)
	ch.publish = ch.publishMQTT

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			token := ch.client.Connect()
			if !token.WaitTimeout(connectTimeout) {
				return fmt.Errorf("[MQTT CONNECTION FAILED] timeout connecting to %s", cfg.BrokerURL)
			}
			if err := token.Error(); err != nil {
				return fmt.Errorf("[MQTT CONNECTION FAILED] cannot reach broker at %s: %w", cfg.BrokerURL, err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ch.client.Disconnect(disconnectQuiesce)
			return nil
		},
	})

	return ch
}

func (c *Channel) publishMQTT(topic string, payload []byte) error {
	token := c.client.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}
	return nil
}

// PushDesired sends a relay command to a device. Turn-on commands are gated
// on liveness: powering a device nobody can observe is unsafe, so an ON for
// an unreachable device is suppressed and reported as not sent. Turn-off is
// always allowed through.
func (c *Channel) PushDesired(ctx context.Context, deviceID string, on bool) (bool, error) {
	if on && !c.liveness.Alive(ctx, deviceID) {
		c.logger.Info("suppressing turn-on for unreachable device",
			zap.String("device_id", deviceID),
		)
		return false, nil
	}
	if err := c.publish(CommandTopic(deviceID), EncodeCommand(on)); err != nil {
		return false, fmt.Errorf("failed to push command for %s: %w", deviceID, err)
	}
	return true, nil
}

// Send pushes a relay command without the liveness gate. Manual toggles use
// it: a person is watching the outcome, so the unattended-turn-on safety
// rule does not apply.
func (c *Channel) Send(ctx context.Context, deviceID string, on bool) error {
	if err := c.publish(CommandTopic(deviceID), EncodeCommand(on)); err != nil {
		return fmt.Errorf("failed to push command for %s: %w", deviceID, err)
	}
	return nil
}

// SendBundle publishes the full control configuration to a device's command
// topic, typically in reply to a state report.
func (c *Channel) SendBundle(ctx context.Context, deviceID string, bundle ControlBundle) error {
	payload, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to encode control bundle for %s: %w", deviceID, err)
	}
	if err := c.publish(CommandTopic(deviceID), payload); err != nil {
		return fmt.Errorf("failed to send control bundle for %s: %w", deviceID, err)
	}
	return nil
}

// SubscribeStateReports registers the handler for devices/+/state. Payloads
// on malformed topics are dropped with a warning.
func (c *Channel) SubscribeStateReports(handler MessageHandler) {
	c.handlerMu.Lock()
	c.stateHandler = handler
	c.handlerMu.Unlock()

	if c.client.IsConnected() {
		c.resubscribe(c.client)
	}
}

func (c *Channel) resubscribe(client mqtt.Client) {
	c.handlerMu.RLock()
	handler := c.stateHandler
	c.handlerMu.RUnlock()
	if handler == nil {
		return
	}

	token := client.Subscribe(StateTopicFilter(), c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		deviceID, err := DeviceIDFromStateTopic(msg.Topic())
		if err != nil {
			c.logger.Warn("dropping message on malformed state topic",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
			return
		}
		handler(deviceID, msg.Payload())
	})
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		c.logger.Error("failed to subscribe to state reports", zap.Error(token.Error()))
	}
}
