package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
)

// eventBuffer is the per-subscriber queue; slow clients lose events rather
// than stall the session manager.
const eventBuffer = 64

// events streams session lifecycle events, one JSON object per text message,
// until the client goes away or the manager closes.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*", "[::1]:*"},
	})
	if err != nil {
		a.logger.Warn("websocket accept failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			a.logger.Debug("failed to close websocket", "error", closeErr)
		}
	}()

	// Incoming messages are ignored; CloseRead cancels ctx when the peer
	// closes the connection.
	ctx := ws.CloseRead(r.Context())

	ch, unsubscribe := a.opts.Sessions.Subscribe(eventBuffer)
	defer unsubscribe()

	a.logger.Debug("event subscriber connected", "remote_addr", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				a.logger.Error("failed to encode event", "error", err)
				continue
			}
			if err := a.write(ctx, ws, payload); err != nil {
				if !errors.Is(err, context.Canceled) {
					a.logger.Debug("event write failed", "error", err)
				}
				return
			}
		}
	}
}

func (a *API) write(ctx context.Context, ws *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, a.opts.EventWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, payload)
}
