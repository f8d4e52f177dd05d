package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024

	// Ping round trips slower than this degrade the reported quality.
	degradedRTT = 1 * time.Second
)

// WebSocketChannel implements Channel over a websocket connection to the
// renderer's data channel endpoint. Websocket frames are delivered reliably
// and in order, which is what chunked speech bursts rely on.
type WebSocketChannel struct {
	url    string
	token  string
	logger *zap.Logger
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ConnectionState
	quality  entities.ConnectionQuality
	ready    bool
	lastPing time.Time
	stop     chan struct{}

	// writeMu serializes all writes: gorilla allows one concurrent writer.
	writeMu sync.Mutex

	stateObservers   Notifier[ConnectionState]
	qualityObservers Notifier[entities.ConnectionQuality]
	readyObservers   Notifier[struct{}]
}

var _ Channel = (*WebSocketChannel)(nil)

// NewWebSocketChannel creates a channel targeting the given transport URL,
// authenticating with the per-session client token.
func NewWebSocketChannel(url, clientToken string, logger *zap.Logger) *WebSocketChannel {
	return &WebSocketChannel{
		url:    url,
		token:  clientToken,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		state:   StateDisconnected,
		quality: entities.ConnectionQualityUnknown,
	}
}

// Connect dials the renderer and starts the read and ping loops.
func (c *WebSocketChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.logger.Error("Transport dial failed", zap.String("url", c.url), zap.Error(err))
		return fmt.Errorf("transport connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.ready = false
	c.stop = make(chan struct{})
	c.setStateLocked(StateConnected)
	stop := c.stop
	c.mu.Unlock()

	c.logger.Info("Transport connected", zap.String("url", c.url))

	go c.readPump(conn)
	go c.pingLoop(conn, stop)

	return nil
}

// Disconnect closes the connection. Safe to call when already disconnected.
func (c *WebSocketChannel) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	close(c.stop)
	c.setStateLocked(StateDisconnected)
	c.setQualityLocked(entities.ConnectionQualityUnknown)
	c.mu.Unlock()

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	return conn.Close()
}

// Publish sends one payload as a text frame. Reliable ordered delivery is
// inherent to the websocket; the option is validated for explicitness.
func (c *WebSocketChannel) Publish(ctx context.Context, payload []byte, opts PublishOptions) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return &PublishError{Err: ErrNotConnected}
	}
	if err := ctx.Err(); err != nil {
		return &PublishError{Err: err}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logger.Error("Transport write failed", zap.Error(err))
		return &PublishError{Err: err}
	}
	return nil
}

// State returns the current connection state.
func (c *WebSocketChannel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *WebSocketChannel) OnStateChange(fn func(ConnectionState)) Subscription {
	return c.stateObservers.Subscribe(fn)
}

func (c *WebSocketChannel) OnQualityChange(fn func(entities.ConnectionQuality)) Subscription {
	return c.qualityObservers.Subscribe(fn)
}

func (c *WebSocketChannel) OnStreamReady(fn func()) Subscription {
	return c.readyObservers.Subscribe(func(struct{}) { fn() })
}

// readPump drains inbound frames. The first frame from the remote side
// marks the stream ready; afterwards frames only refresh liveness.
func (c *WebSocketChannel) readPump(conn *websocket.Conn) {
	defer c.markDisconnected(conn)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.recordPong()
		return nil
	})

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("Transport read failed", zap.Error(err))
			}
			return
		}

		c.mu.Lock()
		first := !c.ready
		c.ready = true
		c.mu.Unlock()
		if first {
			c.readyObservers.Publish(struct{}{})
		}
	}
}

// pingLoop keeps the connection alive and derives connection quality from
// ping round-trip times.
func (c *WebSocketChannel) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.lastPing = time.Now()
			c.mu.Unlock()

			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()

			if err != nil {
				c.mu.Lock()
				c.setQualityLocked(entities.ConnectionQualityLost)
				c.mu.Unlock()
				return
			}
		}
	}
}

func (c *WebSocketChannel) recordPong() {
	c.mu.Lock()
	rtt := time.Since(c.lastPing)
	quality := entities.ConnectionQualityGood
	if rtt > degradedRTT {
		quality = entities.ConnectionQualityDegraded
	}
	c.setQualityLocked(quality)
	c.mu.Unlock()
}

func (c *WebSocketChannel) markDisconnected(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		close(c.stop)
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()
}

// setStateLocked mutates state and notifies observers; c.mu must be held.
func (c *WebSocketChannel) setStateLocked(s ConnectionState) {
	if c.state == s {
		return
	}
	c.state = s
	go c.stateObservers.Publish(s)
}

func (c *WebSocketChannel) setQualityLocked(q entities.ConnectionQuality) {
	if c.quality == q {
		return
	}
	c.quality = q
	go c.qualityObservers.Publish(q)
}
