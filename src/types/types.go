package types

import "time"

// Envelope is the client wire message. Type and Action are both required;
// the coordinator rejects frames missing either before dispatch.
type Envelope struct {
	Type   string         `json:"type"`
	Action string         `json:"action"`
	Data   map[string]any `json:"data,omitempty"`
}

// EventKind identifies an announcement on the cross-worker bus.
type EventKind string

const (
	ClientConnected    EventKind = "client.connected"
	ClientDisconnected EventKind = "client.disconnected"
	ClientJoinedRoom   EventKind = "client.joined-room"
	ClientLeftRoom     EventKind = "client.left-room"
	SendToAll          EventKind = "message.send-to-all"
	MessageError       EventKind = "message.error"
	Custom             EventKind = "custom"
)

// Kinds lists every announcement kind a coordinator subscribes to at startup.
func Kinds() []EventKind {
	return []EventKind{
		ClientConnected,
		ClientDisconnected,
		ClientJoinedRoom,
		ClientLeftRoom,
		SendToAll,
		MessageError,
		Custom,
	}
}

// Announcement is the payload exchanged between workers. WorkerID names the
// originating process so consumers can skip their own published events;
// RunOnSameWorker overrides that skip for events the origin must also act on,
// such as delivering an error to a socket it owns.
type Announcement struct {
	Kind            EventKind      `json:"kind"`
	WorkerID        string         `json:"worker_id"`
	RunOnSameWorker bool           `json:"run_on_same_worker,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
}

// RouteHandler handles an inbound client message matched by the dispatch table.
type RouteHandler func(clientID string, env Envelope) error

// ClientInfo holds metadata about a known client.
type ClientInfo struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	Rooms        []string  `json:"rooms"`
	Remote       bool      `json:"remote"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() ([]byte, error)
	Close() error
}
