// Package telemetry publishes sidecar events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/rampart-project/rampart/internal/config"
	"github.com/rampart-project/rampart/internal/events"
	"github.com/rampart-project/rampart/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicPlayers = "players"
	TopicAdmin   = "admin"
	TopicSound   = "sound"
	TopicHealth  = "health"
	TopicStatus  = "status"
)

var topics = map[events.EventType]string{
	events.EventPlayerConnected:    TopicPlayers,
	events.EventPlayerDisconnected: TopicPlayers,
	events.EventRestriction:        TopicPlayers,
	events.EventAdminCommand:       TopicAdmin,
	events.EventDownloadStarted:    TopicSound,
	events.EventDownloadFinished:   TopicSound,
	events.EventPlaybackStarted:    TopicSound,
	events.EventPlaybackStopped:    TopicSound,
	events.EventStoreHealth:        TopicHealth,
	events.EventDiskLow:            TopicHealth,
}

// MQTTHandler manages the MQTT connection and publishes bus events.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// Included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a handler; it does not connect until Start.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		logger:   util.ComponentLogger("telemetry"),
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"os":          sysInfo.OS,
			"app_version": version,
		},
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("rampart-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		handler.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		handler.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	return handler, nil
}

// Start connects, forwards bus events until ctx is done, then disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.WaitTimeout(15*time.Second) && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	types := make([]events.EventType, 0, len(topics))
	for t := range topics {
		types = append(types, t)
	}
	h.eventBus.Subscribe("mqtt", h.onEvent, types...)
	h.publish(TopicStatus, map[string]interface{}{"event": "online"})

	<-ctx.Done()

	h.eventBus.Unsubscribe("mqtt")
	h.publish(TopicStatus, map[string]interface{}{"event": "shutdown"})
	h.client.Disconnect(2000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	topic, ok := topics[event.Type]
	if !ok {
		return nil
	}
	h.publish(topic, map[string]interface{}{
		"event":   string(event.Type),
		"source":  event.Source,
		"payload": event.Payload,
	})
	return nil
}

// Topic joins the configured prefix and a suffix.
func Topic(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}
	topic := Topic(h.cfg.TopicPrefix, suffix)

	data, err := json.Marshal(buildMessage(h.metadata, payload, time.Now()))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func buildMessage(metadata map[string]interface{}, payload interface{}, now time.Time) map[string]interface{} {
	msg := make(map[string]interface{}, len(metadata)+2)
	for k, v := range metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = now.UTC().Format(time.RFC3339)
	return msg
}
