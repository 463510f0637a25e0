package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single event write; a peer that stalls longer is
// dropped.
const writeTimeout = 5 * time.Second

// handleDiagnostics streams diagnostic events to a WebSocket subscriber.
// Events published while the peer is catching up may be dropped (the hub
// never blocks the pipeline on a slow reader).
func (g *Gateway) handleDiagnostics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("gateway: websocket accept failed", "error", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		events, cancel := g.hub.Subscribe()
		defer cancel()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				payload, err := json.Marshal(e)
				if err != nil {
					continue
				}
				writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
				err = conn.Write(writeCtx, websocket.MessageText, payload)
				writeCancel()
				if err != nil {
					return
				}
			}
		}
	}
}
