package coordinator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meshsock/presence/src/bus"
	"github.com/meshsock/presence/src/directory"
	"github.com/meshsock/presence/src/router"
	"github.com/meshsock/presence/src/types"
	"github.com/rs/zerolog"
)

// Options tunes a coordinator instance.
type Options struct {
	SweepInterval time.Duration // how often idle connections are checked
	InactiveAfter time.Duration // idle time before a connection is dropped
	SendBuffer    int           // per-client outbound queue size
}

// DefaultOptions returns the default coordinator tuning.
func DefaultOptions() Options {
	return Options{
		SweepInterval: 30 * time.Second,
		InactiveAfter: 5 * time.Minute,
		SendBuffer:    256,
	}
}

// Hooks are application lifecycle callbacks. All are optional and may kick
// off asynchronous work; the coordinator never waits on them beyond the call.
type Hooks struct {
	// OnConnected runs after a client registers. join adds the client to a
	// room through the coordinator.
	OnConnected    func(clientID string, join func(room string))
	OnDisconnected func(clientID string)
	OnError        func(clientID string, err error)
}

type inboundMsg struct {
	clientID string
	raw      []byte
}

// Coordinator glues the transport to the directories and the cross-worker
// bus. It owns its directories as explicit instances so multiple coordinators
// can run in isolation.
type Coordinator struct {
	workerID string
	opts     Options

	clients *directory.Clients
	rooms   *directory.Rooms
	routes  *router.Table

	owned map[string]*Client // clients whose socket this worker holds

	register      chan *Client
	unregister    chan *Client
	inbound       chan inboundMsg
	announcements chan types.Announcement

	bus      bus.Bus
	hooks    Hooks
	onCustom func(types.Announcement)

	mu     sync.RWMutex
	logger zerolog.Logger
	done   chan struct{}
}

// New creates a coordinator with a fresh worker identity.
func New(opts Options, logger zerolog.Logger) *Coordinator {
	def := DefaultOptions()
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	if opts.InactiveAfter <= 0 {
		opts.InactiveAfter = def.InactiveAfter
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	clients := directory.NewClients(logger)
	c := &Coordinator{
		workerID:      uuid.New().String(),
		opts:          opts,
		clients:       clients,
		rooms:         directory.NewRooms(clients, logger),
		routes:        router.New(logger),
		owned:         make(map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		inbound:       make(chan inboundMsg, 256),
		announcements: make(chan types.Announcement, 256),
		logger:        logger.With().Str("component", "coordinator").Logger(),
		done:          make(chan struct{}),
	}
	return c
}

// WorkerID returns this process's identity on the bus.
func (c *Coordinator) WorkerID() string { return c.workerID }

// Directory returns the client directory.
func (c *Coordinator) Directory() *directory.Clients { return c.clients }

// Rooms returns the room directory.
func (c *Coordinator) Rooms() *directory.Rooms { return c.rooms }

// RegisterRoute adds a message handler for a (type, action) pair. Call before Run.
func (c *Coordinator) RegisterRoute(msgType, action string, handler types.RouteHandler) {
	c.routes.Register(msgType, action, handler)
}

// SetFallback installs a handler for unrouted messages. Call before Run.
func (c *Coordinator) SetFallback(handler types.RouteHandler) {
	c.routes.SetFallback(handler)
}

// SetHooks installs the application lifecycle callbacks. Call before Run.
func (c *Coordinator) SetHooks(h Hooks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = h
}

// OnCustom installs the handler for custom announcements. Call before Run.
func (c *Coordinator) OnCustom(fn func(types.Announcement)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCustom = fn
}

// SetBus attaches the cross-worker bus, subscribing to every announcement
// kind. Call before starting the bus; without one the coordinator runs
// standalone and run-on-same-worker announcements are reconciled locally.
func (c *Coordinator) SetBus(b bus.Bus) {
	for _, kind := range types.Kinds() {
		b.Subscribe(kind)
	}
	b.OnMessage(func(ann types.Announcement) {
		select {
		case c.announcements <- ann:
		case <-c.done:
		}
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bus = b
}

// Run starts the coordinator event loop. Call in a goroutine.
func (c *Coordinator) Run() {
	sweep := time.NewTicker(c.opts.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case client := <-c.register:
			c.addClient(client)
		case client := <-c.unregister:
			c.removeClient(client)
		case msg := <-c.inbound:
			c.handleInbound(msg)
		case ann := <-c.announcements:
			c.reconcile(ann)
		case <-sweep.C:
			c.sweepInactive(time.Now())
		case <-c.done:
			return
		}
	}
}

// Stop halts the event loop.
func (c *Coordinator) Stop() {
	close(c.done)
}

// Cleanup closes all owned connections and clears the directory. Call after
// Stop during shutdown.
func (c *Coordinator) Cleanup() {
	c.clients.Cleanup()
}

// Attach registers a new physical connection and returns its client. The
// caller starts the pumps.
func (c *Coordinator) Attach(conn types.Conn) *Client {
	client := newClient(uuid.New().String(), conn, c, c.opts.SendBuffer)
	select {
	case c.register <- client:
	case <-c.done:
	}
	return client
}

// HandleRaw feeds one inbound frame from a client into the coordinator.
func (c *Coordinator) HandleRaw(clientID string, raw []byte) {
	select {
	case c.inbound <- inboundMsg{clientID: clientID, raw: raw}:
	case <-c.done:
	}
}

func (c *Coordinator) addClient(client *Client) {
	c.mu.Lock()
	c.owned[client.ID] = client
	c.mu.Unlock()

	now := time.Now()
	c.clients.Add(client.ID, client.conn, now)

	c.announce(types.Announcement{
		Kind: types.ClientConnected,
		Payload: map[string]any{
			"clientId":     client.ID,
			"lastActivity": now.UnixMilli(),
		},
	})

	c.logger.Info().Str("client_id", client.ID).Msg("client connected")

	c.mu.RLock()
	hook := c.hooks.OnConnected
	c.mu.RUnlock()
	if hook != nil {
		hook(client.ID, func(room string) { c.JoinRoom(client.ID, room) })
	}

	client.push(roomListFrame(c.rooms.Names()))
}

func (c *Coordinator) removeClient(client *Client) {
	c.mu.Lock()
	if _, ok := c.owned[client.ID]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.owned, client.ID)
	c.mu.Unlock()

	client.Close()

	c.rooms.RemoveClientFromAll(client.ID)
	c.clients.Remove(client.ID)

	c.announce(types.Announcement{
		Kind:    types.ClientDisconnected,
		Payload: map[string]any{"clientId": client.ID},
	})

	c.logger.Info().Str("client_id", client.ID).Msg("client disconnected")
	c.broadcastLocal(roomListFrame(c.rooms.Names()))

	c.mu.RLock()
	hook := c.hooks.OnDisconnected
	c.mu.RUnlock()
	if hook != nil {
		hook(client.ID)
	}
}

func (c *Coordinator) handleInbound(msg inboundMsg) {
	c.clients.Touch(msg.clientID, time.Now())

	var env types.Envelope
	if err := json.Unmarshal(msg.raw, &env); err != nil {
		c.protocolError(msg.clientID, fmt.Errorf("invalid message payload: %w", err))
		return
	}
	if env.Type == "" || env.Action == "" {
		c.protocolError(msg.clientID, fmt.Errorf("message requires type and action"))
		return
	}

	// Handlers run off the loop so one slow handler cannot stall other
	// clients. Per-connection arrival order is preserved up to this point;
	// completion order across messages is not guaranteed.
	go func() {
		if err := c.routes.Dispatch(msg.clientID, env); err != nil {
			c.handlerError(msg.clientID, env, err)
		}
	}()
}

func (c *Coordinator) protocolError(clientID string, err error) {
	c.logger.Warn().Err(err).Str("client_id", clientID).Msg("rejected inbound message")
	c.reportError(clientID, err)
}

func (c *Coordinator) handlerError(clientID string, env types.Envelope, err error) {
	c.logger.Error().Err(err).
		Str("client_id", clientID).
		Str("type", env.Type).
		Str("action", env.Action).
		Msg("handler error")
	c.reportError(clientID, err)
}

// reportError announces a message error with run-on-same-worker set, so the
// worker owning the client's socket, possibly this one, delivers it.
func (c *Coordinator) reportError(clientID string, err error) {
	c.mu.RLock()
	hook := c.hooks.OnError
	c.mu.RUnlock()
	if hook != nil {
		hook(clientID, err)
	}

	c.announce(types.Announcement{
		Kind:            types.MessageError,
		RunOnSameWorker: true,
		Payload: map[string]any{
			"clientId": clientID,
			"error":    err.Error(),
		},
	})
}

// announce publishes on the bus. Publish failures are logged and the event is
// lost to other workers (best-effort delivery). Both backends loop published
// announcements back to this worker, so local processing happens through
// reconcile; without a working bus, run-on-same-worker announcements are
// looped back directly.
func (c *Coordinator) announce(ann types.Announcement) {
	ann.WorkerID = c.workerID

	c.mu.RLock()
	b := c.bus
	c.mu.RUnlock()

	if b != nil && b.Available() {
		err := b.Publish(ann)
		if err == nil {
			return
		}
		c.logger.Error().Err(err).Str("kind", string(ann.Kind)).Msg("bus publish failed")
	}

	if ann.RunOnSameWorker {
		select {
		case c.announcements <- ann:
		default:
			c.logger.Warn().Str("kind", string(ann.Kind)).Msg("announcement queue full, dropping")
		}
	}
}

// JoinRoom adds a client to a room, announces it, and refreshes the room list
// for locally connected clients.
func (c *Coordinator) JoinRoom(clientID, room string) {
	c.rooms.AddClient(clientID, room)
	c.announce(types.Announcement{
		Kind:    types.ClientJoinedRoom,
		Payload: map[string]any{"clientId": clientID, "room": room},
	})
	c.broadcastLocal(roomListFrame(c.rooms.Names()))
}

// LeaveRoom removes a client from a room and announces it.
func (c *Coordinator) LeaveRoom(clientID, room string) {
	c.rooms.RemoveClient(clientID, room)
	c.announce(types.Announcement{
		Kind:    types.ClientLeftRoom,
		Payload: map[string]any{"clientId": clientID, "room": room},
	})
	c.broadcastLocal(roomListFrame(c.rooms.Names()))
}

// Broadcast delivers an envelope to every locally connected client and
// announces it so other workers do the same for theirs.
func (c *Coordinator) Broadcast(env types.Envelope) {
	c.broadcastLocal(env)
	c.announce(types.Announcement{
		Kind: types.SendToAll,
		Payload: map[string]any{
			"type":   env.Type,
			"action": env.Action,
			"data":   env.Data,
		},
	})
}

// SendToClient delivers an envelope to a client connected to this worker.
// Returns false if the client is not owned here or its buffer is full.
func (c *Coordinator) SendToClient(clientID string, env types.Envelope) bool {
	c.mu.RLock()
	client, ok := c.owned[clientID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return client.push(env)
}

// ConnectedClients returns the IDs of clients whose sockets this worker holds.
func (c *Coordinator) ConnectedClients() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.owned))
	for id := range c.owned {
		ids = append(ids, id)
	}
	return ids
}

// ClientInfo returns metadata for a known client, or nil.
func (c *Coordinator) ClientInfo(clientID string) *types.ClientInfo {
	rec, ok := c.clients.Get(clientID, false)
	if !ok {
		return nil
	}
	return &types.ClientInfo{
		ID:           rec.ID,
		ConnectedAt:  rec.ConnectedAt,
		LastActivity: rec.LastActivity,
		Rooms:        c.rooms.RoomsOf(clientID),
		Remote:       rec.Conn == nil,
	}
}

func (c *Coordinator) broadcastLocal(env types.Envelope) {
	c.mu.RLock()
	clients := make([]*Client, 0, len(c.owned))
	for _, client := range c.owned {
		clients = append(clients, client)
	}
	c.mu.RUnlock()

	for _, client := range clients {
		if !client.push(env) {
			c.logger.Warn().Str("client_id", client.ID).Msg("send buffer full, dropping")
		}
	}
}

// sweepInactive drops owned connections idle past the threshold. Shadow
// records are never swept; their owner decides their fate.
func (c *Coordinator) sweepInactive(now time.Time) {
	c.mu.RLock()
	owned := make([]*Client, 0, len(c.owned))
	for _, client := range c.owned {
		owned = append(owned, client)
	}
	c.mu.RUnlock()

	for _, client := range owned {
		rec, ok := c.clients.Get(client.ID, true)
		if !ok {
			continue
		}
		if now.Sub(rec.LastActivity) > c.opts.InactiveAfter {
			c.logger.Info().
				Str("client_id", client.ID).
				Time("last_activity", rec.LastActivity).
				Msg("dropping inactive client")
			c.removeClient(client)
		}
	}
}

func roomListFrame(rooms []string) types.Envelope {
	return types.Envelope{
		Type:   "server",
		Action: "rooms",
		Data:   map[string]any{"rooms": rooms},
	}
}
