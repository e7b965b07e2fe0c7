package service

import (
	"fmt"

	"github.com/meshsock/presence/src/coordinator"
	"github.com/meshsock/presence/src/types"
	"github.com/rs/zerolog"
)

// Service provides the high-level presence API over a coordinator.
type Service struct {
	coord  *coordinator.Coordinator
	logger zerolog.Logger
}

// New creates a presence service backed by the given coordinator.
func New(c *coordinator.Coordinator, logger zerolog.Logger) *Service {
	return &Service{coord: c, logger: logger}
}

// Coordinator returns the underlying coordinator.
func (s *Service) Coordinator() *coordinator.Coordinator { return s.coord }

// RegisterRoute registers a message handler for a (type, action) pair.
func (s *Service) RegisterRoute(msgType, action string, handler types.RouteHandler) {
	s.coord.RegisterRoute(msgType, action, handler)
	s.logger.Debug().Str("type", msgType).Str("action", action).Msg("route registered")
}

// Broadcast sends an envelope to every connected client on every worker.
func (s *Service) Broadcast(msgType, action string, data map[string]any) {
	s.coord.Broadcast(types.Envelope{Type: msgType, Action: action, Data: data})
}

// SendToClient sends an envelope directly to a client on this worker.
func (s *Service) SendToClient(clientID, msgType, action string, data map[string]any) error {
	env := types.Envelope{Type: msgType, Action: action, Data: data}
	if ok := s.coord.SendToClient(clientID, env); !ok {
		return fmt.Errorf("client %s not found or buffer full", clientID)
	}
	return nil
}

// JoinRoom adds a client to a room across the cluster.
func (s *Service) JoinRoom(clientID, room string) error {
	if _, ok := s.coord.Directory().Get(clientID, false); !ok {
		return fmt.Errorf("client %s not found", clientID)
	}
	s.coord.JoinRoom(clientID, room)
	s.logger.Debug().
		Str("client_id", clientID).
		Str("room", room).
		Msg("joined room")
	return nil
}

// LeaveRoom removes a client from a room across the cluster.
func (s *Service) LeaveRoom(clientID, room string) error {
	if !s.coord.Rooms().Contains(clientID, room) {
		return fmt.Errorf("client %s is not in room %s", clientID, room)
	}
	s.coord.LeaveRoom(clientID, room)
	s.logger.Debug().
		Str("client_id", clientID).
		Str("room", room).
		Msg("left room")
	return nil
}

// RoomMembers returns the client IDs in a room.
func (s *Service) RoomMembers(room string) []string {
	return s.coord.Rooms().Members(room)
}

// Rooms returns the names of all live rooms.
func (s *Service) Rooms() []string {
	return s.coord.Rooms().Names()
}

// ConnectedClients returns IDs of clients connected to this worker.
func (s *Service) ConnectedClients() []string {
	return s.coord.ConnectedClients()
}

// ClientInfo returns info for a known client, or an error.
func (s *Service) ClientInfo(clientID string) (*types.ClientInfo, error) {
	info := s.coord.ClientInfo(clientID)
	if info == nil {
		return nil, fmt.Errorf("client %s not found", clientID)
	}
	return info, nil
}

// UpdateClientField writes a client attribute, subject to the directory's
// allow-list. Returns an error only when the client is unknown; disallowed
// fields are dropped with a warning by the directory itself.
func (s *Service) UpdateClientField(clientID, field string, value any) error {
	if _, ok := s.coord.Directory().Get(clientID, false); !ok {
		return fmt.Errorf("client %s not found", clientID)
	}
	s.coord.Directory().UpdateField(clientID, field, value)
	return nil
}
