// Exposes the websocket handshake endpoint of the Beacon gateway.

package relay

import (
	"Beacon/internal/auth"
	"Beacon/internal/entity"
	"Beacon/internal/registry"
	"Beacon/pkg/log"
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect cross-origin to the gateway, the cookie token is the gate
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ConnectionHandler classifies every unrouted request: websocket upgrades go
// through the auth gate and the handshake, everything else is a plain 404.
func ConnectionHandler(authService auth.Service, regService registry.Service, relayService Service, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		if !websocket.IsWebSocketUpgrade(gctx.Request) {
			gctx.String(http.StatusNotFound, "Not Found")
			return
		}

		// The handshake must not complete for an unauthenticated client
		claims, autherr := authService.Authorize(gctx, gctx.Request)
		if autherr != nil {
			logger.WithCtx(gctx).Warn().Err(autherr).Msg("Rejected websocket handshake")
			destroyTransport(gctx, logger)
			return
		}

		ws, uperr := upgrader.Upgrade(gctx.Writer, gctx.Request, nil)
		if uperr != nil {
			// Upgrade already wrote its own HTTP error
			logger.WithCtx(gctx).Error().Err(uperr).Msg("Error occured during websocket upgrade")
			return
		}

		conn := entity.NewConnection(claims.Channel, ws)
		ws.SetPongHandler(func(string) error {
			conn.TouchPong()
			return nil
		})
		ws.SetCloseHandler(func(code int, text string) error {
			conn.SetState(entity.TransportClosing)
			return nil
		})

		socketID := regService.Track(gctx, claims.Channel, conn)
		logger.WithCtx(gctx).Info().Msgf("Registered socket %s on channel %s", socketID, claims.Channel)

		// Replay missed history before live dispatch takes over
		relayService.Catchup(gctx, conn, claims.LastID)

		// The socket outlives this handler, so the pump runs off the request context
		go readPump(context.Background(), ws, conn, socketID, regService, logger)
	}
}

// readPump drains inbound frames so control handlers fire, and owns the
// cleanup once the transport errors or the peer goes away.
func readPump(ctx context.Context, ws *websocket.Conn, conn *entity.Connection, socketID string, regService registry.Service, logger log.Logger) {
	defer func() {
		conn.SetState(entity.TransportClosed)
		ws.Close()
		regService.Forget(ctx, socketID)
		logger.WithCtx(ctx).Info().Msgf("Socket %s on channel %s disconnected", socketID, conn.Channel)
	}()
	for {
		if _, _, rderr := ws.ReadMessage(); rderr != nil {
			return
		}
	}
}

// Helper to destroy the raw transport without writing any HTTP response.
func destroyTransport(gctx *gin.Context, logger log.Logger) {
	raw, _, hjerr := gctx.Writer.Hijack()
	if hjerr != nil {
		logger.WithCtx(gctx).Error().Err(hjerr).Msg("Couldn't hijack the raw transport, dropping the request instead")
		gctx.Abort()
		return
	}
	raw.Close()
	gctx.Abort()
}
