package gateway

import (
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/meshsock/presence/src/coordinator"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Gateway exposes the WebSocket upgrade endpoint and a small HTTP surface
// over a coordinator.
type Gateway struct {
	coord    *coordinator.Coordinator
	app      *fiber.App
	upgrader websocket.FastHTTPUpgrader
	logger   zerolog.Logger
}

// New creates a gateway for the coordinator.
func New(c *coordinator.Coordinator, readBuffer, writeBuffer int, logger zerolog.Logger) *Gateway {
	g := &Gateway{
		coord: c,
		app:   fiber.New(),
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
		},
		logger: logger.With().Str("component", "gateway").Logger(),
	}
	g.app.Get("/ws/info", g.handleInfo)
	g.app.Get("/ws/rooms", g.handleRooms)
	return g
}

func (g *Gateway) handleInfo(ctx fiber.Ctx) error {
	return ctx.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  "/ws",
		"worker_id": g.coord.WorkerID(),
		"clients":   g.coord.Directory().Count(),
		"rooms":     g.coord.Rooms().Count(),
	})
}

func (g *Gateway) handleRooms(ctx fiber.Ctx) error {
	rooms := g.coord.Rooms()
	out := make(map[string]int)
	for _, name := range rooms.Names() {
		out[name] = len(rooms.Members(name))
	}
	return ctx.JSON(fiber.Map{"rooms": out})
}

// Handler returns the root fasthttp handler: "/ws" performs the WebSocket
// upgrade, everything else goes through the Fiber router. Registered at the
// fasthttp level because Fiber v3 does not expose *fasthttp.RequestCtx.
func (g *Gateway) Handler() fasthttp.RequestHandler {
	fiberHandler := g.app.Handler()

	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/ws" {
			fiberHandler(ctx)
			return
		}

		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		err := g.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			client := g.coord.Attach(&wsConn{conn})
			go client.WritePump()
			client.ReadPump()
		})
		if err != nil {
			g.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// wsConn adapts fasthttp/websocket.Conn to the coordinator's Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) WriteJSON(v any) error { return w.conn.WriteJSON(v) }

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) Close() error { return w.conn.Close() }
