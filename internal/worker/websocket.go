package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/proto"
)

// ErrNotConnected is returned by reads and writes on a closed client.
var ErrNotConnected = errors.New("not connected")

// WebSocketClient carries protobuf worker messages over the agent socket.
type WebSocketClient struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebSocketClient(serverURL string, logger *slog.Logger) *WebSocketClient {
	return &WebSocketClient{
		url:    serverURL,
		logger: logger,
	}
}

// agentURL maps a LiveKit server URL to its agent socket endpoint.
func agentURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/agent"
	return u.String(), nil
}

// Connect dials the agent endpoint, authenticating with token.
func (c *WebSocketClient) Connect(ctx context.Context, token string) error {
	endpoint, err := agentURL(c.url)
	if err != nil {
		return err
	}

	c.logger.Debug("Connecting to WebSocket", slog.String("url", endpoint))

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("WebSocket connected", slog.String("url", endpoint))
	return nil
}

// ReadMessage blocks for the next server message. Only one goroutine may
// read at a time.
func (c *WebSocketClient) ReadMessage() (*livekit.ServerMessage, error) {
	conn := c.current()
	if conn == nil {
		return nil, ErrNotConnected
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		if kind != websocket.BinaryMessage {
			c.logger.Debug("Ignoring non-binary message", slog.Int("type", kind))
			continue
		}
		msg := &livekit.ServerMessage{}
		if err := proto.Unmarshal(data, msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		return msg, nil
	}
}

// WriteMessage sends a worker message. Only one goroutine may write at a
// time.
func (c *WebSocketClient) WriteMessage(msg *livekit.WorkerMessage) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.logger.Info("Closing WebSocket connection")
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

func (c *WebSocketClient) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}
