// Package events defines the connection lifecycle events published by
// client readers and the telemetry events fanned out by the Hub.
package events

import (
	"fmt"

	"github.com/energizer-project/loginserver/internal/protocol"
)

// EventType represents the type of an event.
type EventType string

const (
	// Client lifecycle, published by readers onto the Queue.
	EventClientConnected    EventType = "client_connected"
	EventClientMessage      EventType = "client_message"
	EventClientDisconnected EventType = "client_disconnected"

	// Telemetry, emitted by the Hub on the EventBus.
	EventPlayerJoined       EventType = "player_joined"
	EventPlayerLeft         EventType = "player_left"
	EventPlayerStateChanged EventType = "player_state_changed"
	EventShutdown           EventType = "shutdown"

	// Health, emitted by the health manager on the EventBus.
	EventHeartbeat   EventType = "heartbeat"
	EventHealthAlert EventType = "health_alert"
)

// Event is a single event with its typed payload.
type Event struct {
	Type     EventType   `json:"type"`
	Source   string      `json:"source"`
	ClientID uint32      `json:"client_id"`
	Payload  interface{} `json:"payload,omitempty"`
}

// ClientSource formats the Source field for events about a client.
func ClientSource(id uint32) string {
	return fmt.Sprintf("client:%d", id)
}

// ClientConnectedPayload is carried by EventClientConnected.
type ClientConnectedPayload struct {
	ID   uint32  `json:"id"`
	IP   [4]byte `json:"ip"`
	Port int     `json:"port"`
}

// ClientMessagePayload is carried by EventClientMessage.
type ClientMessagePayload struct {
	Sequence *uint32           `json:"sequence"`
	Objects  []protocol.Object `json:"objects"`
}

// PlayerPayload is carried by the player telemetry events.
type PlayerPayload struct {
	ID        uint32 `json:"id"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	State     string `json:"state"`
	PrevState string `json:"prev_state,omitempty"`
	Messages  uint64 `json:"messages,omitempty"`
}

// HealthAlertPayload is carried by EventHealthAlert.
type HealthAlertPayload struct {
	Check   string `json:"check"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// NewConnected builds an EventClientConnected event.
func NewConnected(id uint32, ip [4]byte, port int) Event {
	return Event{
		Type:     EventClientConnected,
		Source:   ClientSource(id),
		ClientID: id,
		Payload:  ClientConnectedPayload{ID: id, IP: ip, Port: port},
	}
}

// NewMessage builds an EventClientMessage event.
func NewMessage(id uint32, msg *protocol.Message) Event {
	return Event{
		Type:     EventClientMessage,
		Source:   ClientSource(id),
		ClientID: id,
		Payload:  ClientMessagePayload{Sequence: msg.Sequence, Objects: msg.Objects},
	}
}

// NewDisconnected builds an EventClientDisconnected event.
func NewDisconnected(id uint32) Event {
	return Event{
		Type:     EventClientDisconnected,
		Source:   ClientSource(id),
		ClientID: id,
	}
}
