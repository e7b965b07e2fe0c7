package directory

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{ closed bool }

func (n *nopConn) WriteJSON(v any) error        { return nil }
func (n *nopConn) ReadMessage() ([]byte, error) { select {} }
func (n *nopConn) Close() error                 { n.closed = true; return nil }

func newTestClients() *Clients {
	return NewClients(zerolog.Nop())
}

func TestAddAndGet(t *testing.T) {
	c := newTestClients()
	conn := &nopConn{}
	now := time.Now()

	rec := c.Add("c1", conn, now)
	assert.Equal(t, "c1", rec.ID)

	got, ok := c.Get("c1", false)
	require.True(t, ok)
	assert.Equal(t, now, got.LastActivity)
	assert.NotNil(t, got.Conn)
}

func TestGetRequireConnSkipsShadows(t *testing.T) {
	c := newTestClients()
	c.Add("shadow", nil, time.Now())

	_, ok := c.Get("shadow", true)
	assert.False(t, ok, "shadow record must not satisfy requireConn")

	got, ok := c.Get("shadow", false)
	require.True(t, ok)
	assert.Nil(t, got.Conn)
}

func TestUpdateFieldAllowed(t *testing.T) {
	c := newTestClients()
	c.Add("c1", nil, time.Now())

	require.True(t, c.UpdateField("c1", "username", "alice"))

	got, ok := c.Get("c1", false)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Attrs["username"])
}

func TestUpdateFieldRejectsReservedNames(t *testing.T) {
	c := newTestClients()
	c.Add("c1", nil, time.Now())

	assert.False(t, c.UpdateField("c1", "__proto__", map[string]any{"polluted": true}))
	assert.False(t, c.UpdateField("c1", "constructor", 1))
	assert.False(t, c.UpdateField("c1", "metadata.__proto__.x", 1))

	got, _ := c.Get("c1", false)
	assert.Empty(t, got.Attrs)
}

func TestUpdateFieldRejectsOutsideAllowList(t *testing.T) {
	c := newTestClients()
	c.Add("c1", nil, time.Now())

	assert.False(t, c.UpdateField("c1", "notAnAllowedField", 1))

	got, _ := c.Get("c1", false)
	assert.Empty(t, got.Attrs)
}

func TestUpdateFieldRejectsManagedFields(t *testing.T) {
	c := newTestClients()
	c.Add("c1", nil, time.Now())

	assert.False(t, c.UpdateField("c1", "id", "other"))
	assert.False(t, c.UpdateField("c1", "connection", nil))

	_, ok := c.Get("c1", false)
	assert.True(t, ok, "record must be untouched")
}

func TestUpdateFieldDottedPath(t *testing.T) {
	c := newTestClients()
	c.Add("c1", nil, time.Now())

	require.True(t, c.UpdateField("c1", "metadata.user.email", "a@b.c"))

	got, _ := c.Get("c1", false)
	meta := got.Attrs["metadata"].(map[string]any)
	user := meta["user"].(map[string]any)
	assert.Equal(t, "a@b.c", user["email"])
}

func TestUpdateFieldRoomAndLastActivity(t *testing.T) {
	c := newTestClients()
	c.Add("c1", nil, time.Now())

	require.True(t, c.UpdateField("c1", "room", "lobby"))
	assert.False(t, c.UpdateField("c1", "room", 42), "room requires a string")

	stamp := time.Now().Add(-time.Hour)
	require.True(t, c.UpdateField("c1", "lastActivity", stamp))

	got, _ := c.Get("c1", false)
	assert.Equal(t, "lobby", got.Room)
	assert.Equal(t, stamp, got.LastActivity)
}

func TestUpdateFieldUnknownClient(t *testing.T) {
	c := newTestClients()
	assert.False(t, c.UpdateField("missing", "username", "alice"))
}

func TestFindByField(t *testing.T) {
	c := newTestClients()
	c.Add("c1", nil, time.Now())
	c.Add("c2", &nopConn{}, time.Now())
	c.UpdateField("c1", "username", "alice")
	c.UpdateField("c2", "username", "bob")

	got, ok := c.FindByField("username", "alice", false, "")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ID)

	_, ok = c.FindByField("username", "alice", true, "")
	assert.False(t, ok, "alice is a shadow, requireConn must miss")

	got, ok = c.FindByField("username", "bob", true, "")
	require.True(t, ok)
	assert.Equal(t, "c2", got.ID)
}

func TestFindByFieldDottedPath(t *testing.T) {
	c := newTestClients()
	c.Add("c1", nil, time.Now())
	c.UpdateField("c1", "metadata.user.email", "a@b.c")

	got, ok := c.FindByField("metadata.user.email", "a@b.c", false, "")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ID)

	_, ok = c.FindByField("metadata.__proto__", "x", false, "")
	assert.False(t, ok, "reserved segment must be rejected")
}

func TestFindByFieldUserTypeFilter(t *testing.T) {
	c := newTestClients()
	c.Add("c1", nil, time.Now())
	c.Add("c2", nil, time.Now())
	c.UpdateField("c1", "username", "alice")
	c.UpdateField("c2", "username", "alice")
	c.UpdateField("c2", "userType", "agent")

	got, ok := c.FindByField("username", "alice", false, "agent")
	require.True(t, ok)
	assert.Equal(t, "c2", got.ID)
}

func TestListWithFilter(t *testing.T) {
	c := newTestClients()
	c.Add("c1", nil, time.Now())
	c.Add("c2", nil, time.Now())
	c.UpdateField("c2", "userType", "agent")

	assert.Len(t, c.List(""), 2)
	assert.Len(t, c.List("agent"), 1)
	assert.Equal(t, 2, c.Count())
}

func TestListIsSnapshot(t *testing.T) {
	c := newTestClients()
	c.Add("c1", nil, time.Now())

	list := c.List("")
	require.Len(t, list, 1)
	list[0].Attrs["username"] = "mutated"

	got, _ := c.Get("c1", false)
	assert.Empty(t, got.Attrs, "mutating a snapshot must not touch the directory")
}

func TestRemove(t *testing.T) {
	c := newTestClients()
	c.Add("c1", nil, time.Now())
	c.Remove("c1")

	_, ok := c.Get("c1", false)
	assert.False(t, ok)
}

func TestCleanupClosesOwnedConns(t *testing.T) {
	c := newTestClients()
	conn := &nopConn{}
	c.Add("c1", conn, time.Now())
	c.Add("c2", nil, time.Now())

	c.Cleanup()

	assert.True(t, conn.closed)
	assert.Equal(t, 0, c.Count())
}
