package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsAuthTimeout  = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// Event is one message pushed by the server, e.g. "toast" or
// "resources_updated".
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Subscribe opens the server's WebSocket, authenticates with the current
// token and calls fn for every event until ctx is cancelled or the
// connection drops. It returns nil when ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, fn func(Event)) error {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.baseURL.Path + "/ws"

	dialer := websocket.Dialer{HandshakeTimeout: wsAuthTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("backend: websocket dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "auth", "token": c.Token()}); err != nil {
		return fmt.Errorf("backend: websocket auth: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	var first Event
	if err := conn.ReadJSON(&first); err != nil {
		return fmt.Errorf("backend: websocket auth: %w", err)
	}
	if first.Type != "authenticated" {
		var body struct {
			Message string `json:"message"`
		}
		json.Unmarshal(first.Data, &body)
		return &APIError{StatusCode: 401, Message: body.Message}
	}
	conn.SetReadDeadline(time.Time{})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteJSON(Event{Type: "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("backend: websocket read: %w", err)
		}
		if ev.Type == "pong" {
			continue
		}
		fn(ev)
	}
}
