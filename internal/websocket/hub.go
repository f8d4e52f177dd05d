package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/domain/repositories"
	"github.com/macahealth/maca-server/internal/avatar"
	"github.com/macahealth/maca-server/internal/session"
	"github.com/macahealth/maca-server/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// How often the server refreshes the vendor session while active.
	keepAlivePeriod = 60 * time.Second

	// Ceiling for one full conversation turn after listening_end.
	turnTimeout = 90 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of active clients and owns the collaborators each
// client's conversation pipeline is built from.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	sttRepo  repositories.SpeechToText
	llm      repositories.LargeLanguageModel
	ttsRepo  repositories.TextToSpeech
	issuer   repositories.SessionIssuer
	protocol *avatar.Protocol
	mode     entities.AvatarMode

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(
	sttRepo repositories.SpeechToText,
	llm repositories.LargeLanguageModel,
	ttsRepo repositories.TextToSpeech,
	issuer repositories.SessionIssuer,
	protocol *avatar.Protocol,
	mode entities.AvatarMode,
	logger *zap.Logger,
) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		sttRepo:    sttRepo,
		llm:        llm,
		ttsRepo:    ttsRepo,
		issuer:     issuer,
		protocol:   protocol,
		mode:       mode,
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.clientID] = client
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("clientID", client.clientID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.clientID]; ok {
				delete(h.clients, client.clientID)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("clientID", client.clientID))
		}
	}
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub. Each
// client owns its own pipeline, recorder and avatar session, so two browsers
// never share conversation state.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Client ID for this connection, taken from the verified JWT.
	clientID string

	// Logger
	logger *zap.Logger

	pipeline   *usecase.ConversationPipeline
	recorder   *usecase.RecordingController
	sessionCtl *session.Controller

	// Active press-to-talk capture. Binary frames land here between
	// listening_start and listening_end.
	capture *frameCapture
	pending captureConfig

	// Closed when the read pump exits, stopping the keep-alive loop.
	done chan struct{}

	mutex sync.Mutex
}

func newClient(hub *Hub, conn *websocket.Conn, clientID string, logger *zap.Logger) *Client {
	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan WriteData, 256),
		clientID: clientID,
		logger:   logger,
		done:     make(chan struct{}),
	}

	client.pipeline = usecase.NewConversationPipeline(hub.sttRepo, hub.llm, hub.ttsRepo, hub.protocol, logger)
	client.pipeline.SetCallbacks(usecase.Callbacks{
		OnStage: func(stage usecase.Stage) {
			client.sendJSON(ServerMessage{Type: MessageTypeStage, Stage: string(stage)})
		},
		OnTurnComplete: func(userText, replyText string) {
			client.sendJSON(ServerMessage{
				Type:      MessageTypeTurnComplete,
				UserText:  userText,
				ReplyText: replyText,
			})
		},
		OnTurnError: func(stage usecase.Stage, err error) {
			client.sendJSON(ServerMessage{
				Type:  MessageTypeError,
				Stage: string(stage),
				Error: err.Error(),
			})
		},
	})
	client.recorder = usecase.NewRecordingController(client.pipeline, client, logger)
	client.sessionCtl = session.NewController(hub.issuer, hub.protocol, hub.mode, logger)

	return client
}

// HandleWebSocketWithAuth handles websocket requests with a pre-authenticated
// client ID.
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, clientID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(hub, conn, clientID, logger)
	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
	go client.keepAliveLoop()

	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		close(c.done)
		c.teardown()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			// Control messages are JSON.
			c.processMessage(message)
		case websocket.BinaryMessage:
			// Binary frames are recorded audio.
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// keepAliveLoop refreshes the vendor session periodically while this client
// has one established.
func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(keepAlivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.sessionCtl.State() != entities.SessionStateActive {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := c.sessionCtl.KeepAlive(ctx); err != nil {
				c.logger.Warn("Session keep-alive failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// teardown releases the capture and the avatar session when the connection
// drops, however it drops.
func (c *Client) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.mutex.Lock()
	capture := c.capture
	c.capture = nil
	c.mutex.Unlock()
	if capture != nil {
		capture.Close()
	}

	if err := c.sessionCtl.Stop(ctx); err != nil {
		c.logger.Warn("Session teardown failed", zap.String("clientID", c.clientID), zap.Error(err))
	}
}

// processMessage processes incoming control messages from the browser
func (c *Client) processMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Error("Failed to parse message", zap.Error(err))
		c.sendJSON(ServerMessage{Type: MessageTypeError, Error: "malformed message"})
		return
	}

	switch msg.Type {
	case MessageTypeSessionStart:
		go c.handleSessionStart()
	case MessageTypeSessionStop:
		go c.handleSessionStop()
	case MessageTypeListeningStart:
		c.handleListeningStart(msg)
	case MessageTypeListeningEnd:
		c.handleListeningEnd()
	case MessageTypeInterrupt:
		c.handleInterrupt()
	case MessageTypeReset:
		c.pipeline.ResetConversation()
	default:
		c.logger.Warn("Unknown message type", zap.String("type", string(msg.Type)))
	}
}

// processBinaryAudioChunk feeds recorded audio into the active capture
func (c *Client) processBinaryAudioChunk(data []byte) {
	c.mutex.Lock()
	capture := c.capture
	c.mutex.Unlock()

	if capture == nil {
		c.logger.Warn("Received audio chunk with no active recording",
			zap.String("clientID", c.clientID))
		return
	}
	capture.push(data)
}

// handleSessionStart issues avatar credentials and establishes the server
// side of the session, then hands the transport endpoint to the browser.
func (c *Client) handleSessionStart() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.sessionCtl.Initialize(ctx); err != nil {
		c.logger.Error("Session initialize failed", zap.String("clientID", c.clientID), zap.Error(err))
		c.sendJSON(ServerMessage{Type: MessageTypeError, Error: err.Error()})
		return
	}
	if err := c.sessionCtl.Start(ctx); err != nil {
		c.logger.Error("Session start failed", zap.String("clientID", c.clientID), zap.Error(err))
		c.sendJSON(ServerMessage{Type: MessageTypeError, Error: err.Error()})
		return
	}

	c.pipeline.AttachChannel(c.sessionCtl.Channel())

	creds := c.sessionCtl.Credentials()
	c.logger.Info("Avatar session established",
		zap.String("clientID", c.clientID),
		zap.String("sessionID", creds.SessionID))

	c.sendJSON(ServerMessage{
		Type:                 MessageTypeSessionReady,
		SessionID:            creds.SessionID,
		TransportURL:         creds.TransportURL,
		TransportClientToken: creds.TransportClientToken,
	})
}

func (c *Client) handleSessionStop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.pipeline.AttachChannel(nil)
	if err := c.sessionCtl.Stop(ctx); err != nil {
		c.logger.Warn("Session stop reported errors", zap.String("clientID", c.clientID), zap.Error(err))
	}
	c.sendJSON(ServerMessage{Type: MessageTypeSessionEnded})
}

// handleListeningStart begins press-to-talk capture. Subsequent binary
// frames accumulate until listening_end.
func (c *Client) handleListeningStart(msg ClientMessage) {
	// The previous utterance may still be finalizing; tell the browser
	// its press-to-talk was ignored instead of silently dropping frames.
	if c.recorder.IsRecording() {
		c.logger.Warn("Recording already active, rejecting listening_start",
			zap.String("clientID", c.clientID))
		c.sendJSON(ServerMessage{
			Type:  MessageTypeError,
			Error: "previous utterance still processing",
		})
		return
	}

	c.mutex.Lock()
	c.pending = captureConfig{
		format:     containerFromString(msg.Format),
		sampleRate: msg.SampleRate,
	}
	c.mutex.Unlock()

	if msg.Language != "" {
		c.pipeline.SetLanguage(msg.Language)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.recorder.StartRecording(ctx); err != nil {
		c.logger.Error("Recording start failed", zap.String("clientID", c.clientID), zap.Error(err))
		c.sendJSON(ServerMessage{Type: MessageTypeError, Error: err.Error()})
	}
}

// handleListeningEnd finalizes the capture and runs the conversation turn.
// The turn runs in its own goroutine; progress reaches the browser through
// the pipeline callbacks.
func (c *Client) handleListeningEnd() {
	// Frames are ordered on the wire, so everything recorded has already
	// been routed by the time listening_end arrives.
	c.mutex.Lock()
	c.capture = nil
	c.mutex.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
		defer cancel()

		err := c.recorder.StopRecording(ctx)
		if err == nil {
			return
		}

		// Stage failures already reached the browser through the error
		// callback.
		var stageErr *usecase.StageError
		if errors.As(err, &stageErr) {
			return
		}
		c.logger.Error("Voice turn failed", zap.String("clientID", c.clientID), zap.Error(err))
		c.sendJSON(ServerMessage{Type: MessageTypeError, Error: err.Error()})
	}()
}

func (c *Client) handleInterrupt() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.pipeline.Interrupt(ctx); err != nil {
		c.logger.Warn("Interrupt failed", zap.String("clientID", c.clientID), zap.Error(err))
		c.sendJSON(ServerMessage{Type: MessageTypeError, Error: err.Error()})
	}
}

func (c *Client) sendJSON(msg ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal server message", zap.Error(err))
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
		c.logger.Warn("Send buffer full, dropping message",
			zap.String("clientID", c.clientID),
			zap.String("type", string(msg.Type)))
	}
}
