package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// WSConn adapts a websocket connection to the event stream contract.
// Writes are serialized with a mutex because the underlying connection
// does not support concurrent writers.
type WSConn struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewWSConn wraps an established websocket connection.
func NewWSConn(conn *websocket.Conn, logger *zap.Logger) *WSConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSConn{
		conn:   conn,
		logger: logger.With(zap.String("component", "ws_stream")),
	}
}

// WriteEvent sends one JSON-encoded event frame.
func (w *WSConn) WriteEvent(ctx context.Context, ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("connection closed")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// WriteAll drains ch to the connection in order.
func (w *WSConn) WriteAll(ctx context.Context, ch <-chan Event) error {
	var writeErr error
	for ev := range ch {
		if writeErr != nil {
			continue
		}
		writeErr = w.WriteEvent(ctx, ev)
	}
	return writeErr
}

// ReadEvent reads one JSON-encoded event frame.
func (w *WSConn) ReadEvent(ctx context.Context) (Event, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("websocket read: %w", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}

// Close closes the connection with a normal status.
func (w *WSConn) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close(websocket.StatusNormalClosure, "stream finished")
}
