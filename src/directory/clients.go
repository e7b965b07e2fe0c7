package directory

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/meshsock/presence/src/types"
	"github.com/rs/zerolog"
)

// allowedFields is the closed set of client attribute names that may be
// written or queried. Anything outside it is treated as attack-shaped input
// and dropped with a warning, never an error.
var allowedFields = map[string]struct{}{
	"id":           {},
	"connection":   {},
	"room":         {},
	"userId":       {},
	"username":     {},
	"userType":     {},
	"metadata":     {},
	"connectedAt":  {},
	"lastActivity": {},
	"status":       {},
	"permissions":  {},
}

// reservedNames are rejected on every segment of a dotted field path.
var reservedNames = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// managedFields are maintained by the coordinator and cannot be written
// through UpdateField.
var managedFields = map[string]struct{}{
	"id":          {},
	"connection":  {},
	"connectedAt": {},
}

type record struct {
	conn         types.Conn // nil on workers that do not own the socket
	connectedAt  time.Time
	lastActivity time.Time
	room         string
	attrs        map[string]any
}

// Record is a point-in-time snapshot of a client. Mutating it has no effect
// on the directory.
type Record struct {
	ID           string
	Conn         types.Conn
	ConnectedAt  time.Time
	LastActivity time.Time
	Room         string
	Attrs        map[string]any
}

// Clients is the per-process directory of known clients, both locally owned
// and remotely announced shadows.
type Clients struct {
	mu      sync.RWMutex
	records map[string]*record
	logger  zerolog.Logger
}

// NewClients creates an empty client directory.
func NewClients(logger zerolog.Logger) *Clients {
	return &Clients{
		records: make(map[string]*record),
		logger:  logger.With().Str("component", "client-directory").Logger(),
	}
}

// Add inserts or overwrites a client record. A nil conn records a shadow
// client owned by another worker.
func (c *Clients) Add(id string, conn types.Conn, lastActivity time.Time) Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := &record{
		conn:         conn,
		connectedAt:  time.Now(),
		lastActivity: lastActivity,
		attrs:        make(map[string]any),
	}
	c.records[id] = rec
	return snapshot(id, rec)
}

// Get returns a snapshot of the client. When requireConn is set, records
// without a transport handle (shadows) are reported as not found, so callers
// never attempt sends from a non-owning worker.
func (c *Clients) Get(id string, requireConn bool) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[id]
	if !ok || (requireConn && rec.conn == nil) {
		return Record{}, false
	}
	return snapshot(id, rec), true
}

// Touch updates the last-activity timestamp. Called on every inbound message
// by the owning worker.
func (c *Clients) Touch(id string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[id]; ok {
		rec.lastActivity = at
	}
}

// UpdateField writes a client attribute. The field name, including every
// segment of a dotted path, must pass the allow-list and reserved-name
// checks; violations are logged and dropped. Returns whether the write
// was applied.
func (c *Clients) UpdateField(id, field string, value any) bool {
	segments, ok := c.checkField(field)
	if !ok {
		return false
	}
	if _, managed := managedFields[segments[0]]; managed {
		c.logger.Warn().Str("client_id", id).Str("field", field).
			Msg("rejected write to managed field")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return false
	}

	switch segments[0] {
	case "room":
		s, ok := value.(string)
		if !ok {
			c.logger.Warn().Str("client_id", id).Msg("room update requires a string value")
			return false
		}
		rec.room = s
	case "lastActivity":
		t, ok := value.(time.Time)
		if !ok {
			c.logger.Warn().Str("client_id", id).Msg("lastActivity update requires a time value")
			return false
		}
		rec.lastActivity = t
	default:
		if !setPath(rec.attrs, segments, value) {
			c.logger.Warn().Str("client_id", id).Str("field", field).
				Msg("field path collides with a non-map value")
			return false
		}
	}
	return true
}

// Remove deletes the record. The caller owns the transport lifecycle; any
// open handle must be closed by the coordinator, not here.
func (c *Clients) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, id)
}

// FindByField returns the first client whose field matches value. Dotted
// paths descend into map-valued attributes with the same allow-list and
// reserved-name protection as writes. An empty userType matches any client.
func (c *Clients) FindByField(field string, value any, requireConn bool, userType string) (Record, bool) {
	segments, ok := c.checkField(field)
	if !ok {
		return Record{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, rec := range c.records {
		if requireConn && rec.conn == nil {
			continue
		}
		if userType != "" && !rec.hasUserType(userType) {
			continue
		}
		if rec.fieldEquals(id, segments, value) {
			return snapshot(id, rec), true
		}
	}
	return Record{}, false
}

// List returns a snapshot of every record, optionally filtered by userType.
func (c *Clients) List(userType string) []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Record, 0, len(c.records))
	for id, rec := range c.records {
		if userType != "" && !rec.hasUserType(userType) {
			continue
		}
		out = append(out, snapshot(id, rec))
	}
	return out
}

// Count returns the number of known clients, shadows included.
func (c *Clients) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Cleanup closes every owned connection and clears the directory. Used on
// process shutdown.
func (c *Clients) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, rec := range c.records {
		if rec.conn != nil {
			if err := rec.conn.Close(); err != nil {
				c.logger.Debug().Err(err).Str("client_id", id).Msg("close on cleanup")
			}
		}
	}
	c.records = make(map[string]*record)
}

// assignRoom maintains the denormalized room convenience field. Quiet on
// unknown clients: a join announcement may arrive before its connect.
func (c *Clients) assignRoom(id, room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[id]; ok {
		rec.room = room
	}
}

// clearRoom resets the convenience field only if it still names room.
func (c *Clients) clearRoom(id, room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[id]; ok && rec.room == room {
		rec.room = ""
	}
}

func (c *Clients) checkField(field string) ([]string, bool) {
	segments := strings.Split(field, ".")
	for _, s := range segments {
		if s == "" {
			c.logger.Warn().Str("field", field).Msg("rejected empty field path segment")
			return nil, false
		}
		if _, bad := reservedNames[s]; bad {
			c.logger.Warn().Str("field", field).Msg("rejected reserved field name")
			return nil, false
		}
	}
	if _, ok := allowedFields[segments[0]]; !ok {
		c.logger.Warn().Str("field", field).Msg("rejected field outside allow-list")
		return nil, false
	}
	return segments, true
}

func (r *record) hasUserType(userType string) bool {
	v, ok := r.attrs["userType"].(string)
	return ok && v == userType
}

func (r *record) fieldEquals(id string, segments []string, value any) bool {
	switch segments[0] {
	case "id":
		return len(segments) == 1 && id == value
	case "room":
		return len(segments) == 1 && r.room == value
	case "connection", "connectedAt", "lastActivity":
		return false
	}
	got, ok := getPath(r.attrs, segments)
	return ok && reflect.DeepEqual(got, value)
}

func snapshot(id string, rec *record) Record {
	attrs := make(map[string]any, len(rec.attrs))
	for k, v := range rec.attrs {
		attrs[k] = v
	}
	return Record{
		ID:           id,
		Conn:         rec.conn,
		ConnectedAt:  rec.connectedAt,
		LastActivity: rec.lastActivity,
		Room:         rec.room,
		Attrs:        attrs,
	}
}

func setPath(attrs map[string]any, segments []string, value any) bool {
	m := attrs
	for _, s := range segments[:len(segments)-1] {
		next, ok := m[s]
		if !ok {
			child := make(map[string]any)
			m[s] = child
			m = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return false
		}
		m = child
	}
	m[segments[len(segments)-1]] = value
	return true
}

func getPath(attrs map[string]any, segments []string) (any, bool) {
	m := attrs
	for _, s := range segments[:len(segments)-1] {
		child, ok := m[s].(map[string]any)
		if !ok {
			return nil, false
		}
		m = child
	}
	v, ok := m[segments[len(segments)-1]]
	return v, ok
}
