package router

import (
	"github.com/meshsock/presence/src/types"
	"github.com/rs/zerolog"
)

// Route declares a handler for one (type, action) pair.
type Route struct {
	Type    string
	Action  string
	Handler types.RouteHandler
}

// Table maps an inbound message's (type, action) pair to a handler. The table
// is built once at startup; lookup is an exact-match string table with no
// wildcards or precedence. A missing route is expected — in a two-namespace
// system, messages typed for the peer side have no local handler — so a miss
// is logged and dropped, optionally forwarded to a fallback.
type Table struct {
	routes   map[string]types.RouteHandler
	fallback types.RouteHandler
	logger   zerolog.Logger
}

// New builds a dispatch table from a declarative route list.
func New(logger zerolog.Logger, routes ...Route) *Table {
	t := &Table{
		routes: make(map[string]types.RouteHandler, len(routes)),
		logger: logger.With().Str("component", "router").Logger(),
	}
	for _, r := range routes {
		t.Register(r.Type, r.Action, r.Handler)
	}
	return t
}

// Register adds a handler for a (type, action) pair, replacing any previous one.
func (t *Table) Register(msgType, action string, handler types.RouteHandler) {
	t.routes[key(msgType, action)] = handler
}

// SetFallback installs a handler for messages with no matching route.
func (t *Table) SetFallback(handler types.RouteHandler) {
	t.fallback = handler
}

// Dispatch looks up and executes the handler for the envelope. A routing miss
// is not an error; the handler's own error, if any, is returned for the
// caller to report.
func (t *Table) Dispatch(clientID string, env types.Envelope) error {
	handler, ok := t.routes[key(env.Type, env.Action)]
	if !ok {
		if t.fallback != nil {
			return t.fallback(clientID, env)
		}
		t.logger.Warn().
			Str("type", env.Type).
			Str("action", env.Action).
			Msg("no handler for route")
		return nil
	}
	return handler(clientID, env)
}

// Has reports whether a route is registered for the pair.
func (t *Table) Has(msgType, action string) bool {
	_, ok := t.routes[key(msgType, action)]
	return ok
}

func key(msgType, action string) string {
	return msgType + ":" + action
}
