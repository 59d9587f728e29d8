package telemetry

import (
	"testing"
	"time"

	"github.com/rampart-project/rampart/internal/config"
	"github.com/rampart-project/rampart/internal/events"
)

func TestTopic(t *testing.T) {
	if got := Topic("rampart", TopicSound); got != "rampart/sound" {
		t.Errorf("Topic() = %q", got)
	}
	if got := Topic("", TopicAdmin); got != "admin" {
		t.Errorf("Topic() = %q", got)
	}
}

func TestEveryPublishedEventHasATopic(t *testing.T) {
	for _, et := range []events.EventType{
		events.EventPlayerConnected,
		events.EventAdminCommand,
		events.EventDownloadFinished,
		events.EventPlaybackStarted,
		events.EventStoreHealth,
	} {
		if _, ok := topics[et]; !ok {
			t.Errorf("no topic for %s", et)
		}
	}
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := buildMessage(map[string]interface{}{"hostname": "h"}, "p", now)

	if msg["hostname"] != "h" || msg["payload"] != "p" || msg["timestamp"] != "2026-01-02T03:04:05Z" {
		t.Errorf("buildMessage() = %v", msg)
	}
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	if _, err := NewMQTTHandler(config.MQTTConfig{}, events.NewEventBus(), "dev"); err == nil {
		t.Error("NewMQTTHandler() with MQTT disabled succeeded")
	}
}
