package coordinator

import (
	"time"

	"github.com/meshsock/presence/src/types"
)

// reconcile applies a bus announcement to local state. The echo-suppression
// rule comes first: an announcement from this worker is ignored unless it is
// flagged to run on the origin as well. Nothing here re-publishes — the
// origin already did.
func (c *Coordinator) reconcile(ann types.Announcement) {
	if ann.WorkerID == c.workerID && !ann.RunOnSameWorker {
		return
	}

	switch ann.Kind {
	case types.ClientConnected:
		clientID, ok := payloadString(ann.Payload, "clientId")
		if !ok {
			c.logger.Warn().Msg("connected announcement without clientId")
			return
		}
		// Shadow record: no transport handle on this worker.
		c.clients.Add(clientID, nil, payloadTime(ann.Payload, "lastActivity"))

	case types.ClientDisconnected:
		clientID, ok := payloadString(ann.Payload, "clientId")
		if !ok {
			return
		}
		c.rooms.RemoveClientFromAll(clientID)
		c.clients.Remove(clientID)
		c.broadcastLocal(roomListFrame(c.rooms.Names()))

	case types.ClientJoinedRoom:
		clientID, okID := payloadString(ann.Payload, "clientId")
		room, okRoom := payloadString(ann.Payload, "room")
		if !okID || !okRoom {
			return
		}
		c.rooms.AddClient(clientID, room)
		c.broadcastLocal(roomListFrame(c.rooms.Names()))

	case types.ClientLeftRoom:
		clientID, okID := payloadString(ann.Payload, "clientId")
		room, okRoom := payloadString(ann.Payload, "room")
		if !okID || !okRoom {
			return
		}
		c.rooms.RemoveClient(clientID, room)
		c.broadcastLocal(roomListFrame(c.rooms.Names()))

	case types.SendToAll:
		c.broadcastLocal(envelopeFromPayload(ann.Payload))

	case types.MessageError:
		clientID, ok := payloadString(ann.Payload, "clientId")
		if !ok {
			return
		}
		// Only the worker holding the socket can deliver; everywhere else
		// this is an expected no-op.
		errText, _ := payloadString(ann.Payload, "error")
		c.deliverError(clientID, errText)

	case types.Custom:
		c.mu.RLock()
		fn := c.onCustom
		c.mu.RUnlock()
		if fn != nil {
			fn(ann)
			return
		}
		c.logger.Debug().Msg("custom announcement without handler")

	default:
		// Newer workers may emit kinds this one does not know; never crash.
		c.logger.Warn().Str("kind", string(ann.Kind)).Msg("ignoring unknown announcement kind")
	}
}

func (c *Coordinator) deliverError(clientID, errText string) {
	delivered := c.SendToClient(clientID, types.Envelope{
		Type:   "server",
		Action: "error",
		Data:   map[string]any{"error": errText},
	})
	if delivered {
		c.logger.Debug().Str("client_id", clientID).Msg("delivered error to client")
	}
}

func payloadString(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key].(string)
	return v, ok && v != ""
}

// payloadTime reads a millisecond timestamp, defaulting to now. JSON numbers
// arrive as float64.
func payloadTime(payload map[string]any, key string) time.Time {
	switch v := payload[key].(type) {
	case float64:
		return time.UnixMilli(int64(v))
	case int64:
		return time.UnixMilli(v)
	default:
		return time.Now()
	}
}

func envelopeFromPayload(payload map[string]any) types.Envelope {
	env := types.Envelope{}
	env.Type, _ = payloadString(payload, "type")
	env.Action, _ = payloadString(payload, "action")
	if data, ok := payload["data"].(map[string]any); ok {
		env.Data = data
	}
	return env
}
