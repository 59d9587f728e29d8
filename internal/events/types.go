// Package events defines the in-process event bus and the events rampart
// publishes on it.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Player events
	EventPlayerConnected    EventType = "player_connected"
	EventPlayerDisconnected EventType = "player_disconnected"
	EventRestriction        EventType = "restriction_enforced"

	// Admin events
	EventAdminCommand EventType = "admin_command"

	// Sound events
	EventDownloadStarted  EventType = "download_started"
	EventDownloadFinished EventType = "download_finished"
	EventPlaybackStarted  EventType = "playback_started"
	EventPlaybackStopped  EventType = "playback_stopped"

	// System events
	EventStoreHealth EventType = "store_health"
	EventDiskLow     EventType = "disk_low"
	EventShutdown    EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// PlayerPayload describes a connect or disconnect.
type PlayerPayload struct {
	Slot  uint8  `json:"slot"`
	GUID  string `json:"guid"`
	Name  string `json:"name"`
	Team  string `json:"team"`
	Level int    `json:"level"`
}

// RestrictionPayload is emitted when a ban or mute is enforced on connect.
type RestrictionPayload struct {
	Slot      uint8  `json:"slot"`
	GUID      string `json:"guid"`
	Name      string `json:"name"`
	Kind      string `json:"kind"` // "ban" or "mute"
	Reason    string `json:"reason"`
	Remaining int64  `json:"remaining_sec"` // 0 = permanent
}

// AdminCommandPayload reports one executed or rejected admin command.
type AdminCommandPayload struct {
	Slot    uint8  `json:"slot"`
	GUID    string `json:"guid"`
	Name    string `json:"name"`
	Command string `json:"command"`
	Args    string `json:"args"`
	Target  string `json:"target,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DownloadPayload reports a download that started or reached a terminal state.
type DownloadPayload struct {
	ID      string `json:"id"`
	Slot    uint8  `json:"slot"`
	GUID    string `json:"guid"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Reason  string `json:"reason,omitempty"`
	Elapsed int64  `json:"elapsed_ms"`
}

// PlaybackPayload reports a clip starting or ending on the voice stream.
type PlaybackPayload struct {
	Slot uint8  `json:"slot"`
	GUID string `json:"guid"`
	Name string `json:"name,omitempty"`
	Seq  uint32 `json:"seq"`
}

// HealthPayload reports a failing or recovered health check.
type HealthPayload struct {
	Check   string `json:"check"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}
