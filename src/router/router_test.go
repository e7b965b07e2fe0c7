package router

import (
	"errors"
	"testing"

	"github.com/meshsock/presence/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchMatch(t *testing.T) {
	var gotClient string
	var gotEnv types.Envelope

	table := New(zerolog.Nop(), Route{
		Type:   "chat",
		Action: "send",
		Handler: func(clientID string, env types.Envelope) error {
			gotClient = clientID
			gotEnv = env
			return nil
		},
	})

	env := types.Envelope{Type: "chat", Action: "send", Data: map[string]any{"text": "hi"}}
	require.NoError(t, table.Dispatch("c1", env))

	assert.Equal(t, "c1", gotClient)
	assert.Equal(t, "hi", gotEnv.Data["text"])
}

func TestDispatchMissIsNotAnError(t *testing.T) {
	table := New(zerolog.Nop())

	err := table.Dispatch("c1", types.Envelope{Type: "peer", Action: "noop"})
	assert.NoError(t, err, "a routing miss is expected, not an error")
}

func TestDispatchMissUsesFallback(t *testing.T) {
	table := New(zerolog.Nop())

	var fallbackHit bool
	table.SetFallback(func(clientID string, env types.Envelope) error {
		fallbackHit = true
		return nil
	})

	require.NoError(t, table.Dispatch("c1", types.Envelope{Type: "x", Action: "y"}))
	assert.True(t, fallbackHit)
}

func TestDispatchPropagatesHandlerError(t *testing.T) {
	boom := errors.New("boom")
	table := New(zerolog.Nop(), Route{
		Type:    "chat",
		Action:  "send",
		Handler: func(string, types.Envelope) error { return boom },
	})

	err := table.Dispatch("c1", types.Envelope{Type: "chat", Action: "send"})
	assert.ErrorIs(t, err, boom)
}

func TestRegisterReplacesAndHas(t *testing.T) {
	table := New(zerolog.Nop())
	assert.False(t, table.Has("chat", "send"))

	table.Register("chat", "send", func(string, types.Envelope) error { return nil })
	assert.True(t, table.Has("chat", "send"))

	replaced := errors.New("replaced")
	table.Register("chat", "send", func(string, types.Envelope) error { return replaced })
	assert.ErrorIs(t, table.Dispatch("c1", types.Envelope{Type: "chat", Action: "send"}), replaced)
}

func TestExactMatchOnly(t *testing.T) {
	table := New(zerolog.Nop(), Route{
		Type:    "chat",
		Action:  "send",
		Handler: func(string, types.Envelope) error { return errors.New("hit") },
	})

	// No wildcard or prefix behavior.
	assert.NoError(t, table.Dispatch("c1", types.Envelope{Type: "chat", Action: "sendall"}))
	assert.NoError(t, table.Dispatch("c1", types.Envelope{Type: "chats", Action: "send"}))
}
