package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// ackFrame is the acknowledgment message sent back to the feed producer.
type ackFrame struct {
	Seq string `msgpack:"seq"`
}

// WebSocket consumes change events from a feed endpoint over a websocket
// connection. Frames are msgpack-encoded ChangeEvents; acknowledgments
// are msgpack frames carrying the sequence token. The producer redelivers
// anything not acknowledged, so the stream is at-least-once.
type WebSocket struct {
	conn   *websocket.Conn
	ch     chan models.ChangeEvent
	logger *slog.Logger

	mu     sync.Mutex // guards writes to conn and the closed flag
	closed bool
}

// DialWebSocket connects to the feed endpoint and starts the read loop.
func DialWebSocket(ctx context.Context, url string, logger *slog.Logger) (*WebSocket, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial change feed %s: %w", url, err)
	}

	ws := &WebSocket{
		conn:   conn,
		ch:     make(chan models.ChangeEvent, 256),
		logger: logger,
	}
	go ws.readLoop()
	return ws, nil
}

var _ Source = (*WebSocket)(nil)

// readLoop decodes frames until the connection drops, then closes the
// event channel. Redelivery after reconnect is the caller's concern.
func (ws *WebSocket) readLoop() {
	defer close(ws.ch)
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if !ws.isClosed() {
				ws.logger.Error("change feed read failed", "error", err)
			}
			return
		}
		var ev models.ChangeEvent
		if err := msgpack.Unmarshal(data, &ev); err != nil {
			ws.logger.Warn("skipping malformed feed frame", "error", err)
			continue
		}
		ws.ch <- ev
	}
}

func (ws *WebSocket) Events() <-chan models.ChangeEvent { return ws.ch }

// Ack sends an acknowledgment frame for the given sequence token.
func (ws *WebSocket) Ack(seq string) error {
	data, err := msgpack.Marshal(ackFrame{Seq: seq})
	if err != nil {
		return fmt.Errorf("encode ack: %w", err)
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return fmt.Errorf("feed closed")
	}
	if err := ws.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("send ack for %s: %w", seq, err)
	}
	return nil
}

// Close sends a close frame and tears the connection down.
func (ws *WebSocket) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return nil
	}
	ws.closed = true
	deadline := time.Now().Add(time.Second)
	_ = ws.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return ws.conn.Close()
}

func (ws *WebSocket) isClosed() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.closed
}
