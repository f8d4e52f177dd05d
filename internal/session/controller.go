// Package session owns the avatar session lifecycle: credential issuance,
// transport establishment and the state machine observed by callers.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/domain/repositories"
	"github.com/macahealth/maca-server/internal/avatar"
	"github.com/macahealth/maca-server/internal/transport"
)

var (
	// ErrNotInitialized is returned by Start when no credentials have
	// been issued yet.
	ErrNotInitialized = errors.New("session not initialized")

	// ErrAlreadyInitializing is returned by Start while a prior start is
	// still resolving.
	ErrAlreadyInitializing = errors.New("session start already in progress")
)

// ChannelFactory builds a transport channel for freshly issued credentials.
type ChannelFactory func(creds *entities.SessionCredentials, logger *zap.Logger) transport.Channel

// Controller drives one avatar session through its lifecycle:
//
//	inactive -> connecting -> loading -> active -> disconnected/error -> inactive
//
// In custom mode it establishes a transport channel over which the pipeline
// streams speech events. In managed mode the vendor runs the full
// conversation stack and the controller only makes lifecycle calls.
//
// Session state, stream readiness and connection quality are observable;
// they are derived state, never externally settable.
type Controller struct {
	issuer     repositories.SessionIssuer
	protocol   *avatar.Protocol
	newChannel ChannelFactory
	logger     *zap.Logger

	stateObservers   transport.Notifier[entities.SessionState]
	readyObservers   transport.Notifier[bool]
	qualityObservers transport.Notifier[entities.ConnectionQuality]

	mu          sync.Mutex
	mode        entities.AvatarMode
	creds       *entities.SessionCredentials
	channel     transport.Channel
	relays      []transport.Subscription
	state       entities.SessionState
	streamReady bool
	quality     entities.ConnectionQuality
	starting    bool
}

// NewController creates a controller in the given avatar mode. The default
// channel factory dials a websocket to the issued transport URL.
func NewController(issuer repositories.SessionIssuer, protocol *avatar.Protocol, mode entities.AvatarMode, logger *zap.Logger) *Controller {
	return &Controller{
		issuer:   issuer,
		protocol: protocol,
		mode:     mode,
		logger:   logger,
		newChannel: func(creds *entities.SessionCredentials, logger *zap.Logger) transport.Channel {
			return transport.NewWebSocketChannel(creds.TransportURL, creds.TransportClientToken, logger)
		},
		state:   entities.SessionStateInactive,
		quality: entities.ConnectionQualityUnknown,
	}
}

// SetChannelFactory overrides transport construction. Must be called
// before Initialize.
func (c *Controller) SetChannelFactory(factory ChannelFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.newChannel = factory
}

// Initialize issues fresh session credentials from the vendor. It does not
// connect; Start does. Calling Initialize while a session is active
// replaces nothing and fails.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.starting || c.state != entities.SessionStateInactive {
		c.mu.Unlock()
		return ErrAlreadyInitializing
	}
	c.mu.Unlock()

	creds, err := c.issuer.IssueSession(ctx, c.mode)
	if err != nil {
		return fmt.Errorf("issue session: %w", err)
	}
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("issued credentials incomplete: %w", err)
	}

	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()

	c.logger.Info("Session credentials issued",
		zap.String("sessionID", creds.SessionID),
		zap.String("mode", string(c.mode)))
	return nil
}

// Start connects the session. Requires Initialize to have run; returns
// ErrNotInitialized otherwise, and ErrAlreadyInitializing while a prior
// start is still resolving. On success the transport's state, stream-ready
// and quality notifications are relayed to this controller's observers.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.starting {
		c.mu.Unlock()
		return ErrAlreadyInitializing
	}
	if c.creds == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	creds := c.creds
	c.starting = true
	c.setStateLocked(entities.SessionStateConnecting)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	if c.mode == entities.AvatarModeManaged {
		// The vendor owns transport and conversation; issuance already
		// started the remote session.
		c.mu.Lock()
		c.setStateLocked(entities.SessionStateActive)
		c.mu.Unlock()
		c.logger.Info("Managed session active", zap.String("sessionID", creds.SessionID))
		return nil
	}

	channel := c.newChannel(creds, c.logger)

	relays := []transport.Subscription{
		channel.OnStateChange(c.relayConnectionState),
		channel.OnStreamReady(c.relayStreamReady),
		channel.OnQualityChange(c.relayQuality),
	}

	if err := channel.Connect(ctx); err != nil {
		for _, sub := range relays {
			sub.Unsubscribe()
		}
		c.mu.Lock()
		c.setStateLocked(entities.SessionStateError)
		c.mu.Unlock()
		return fmt.Errorf("session transport: %w", err)
	}

	c.mu.Lock()
	if c.creds == nil {
		// Stop ran while the transport was connecting; tear the fresh
		// connection down instead of resurrecting the session.
		c.mu.Unlock()
		for _, sub := range relays {
			sub.Unsubscribe()
		}
		channel.Disconnect()
		return ErrNotInitialized
	}
	c.channel = channel
	c.relays = relays
	c.setStateLocked(entities.SessionStateLoading)
	c.mu.Unlock()

	c.logger.Info("Session transport connected, waiting for stream",
		zap.String("sessionID", creds.SessionID))
	return nil
}

// Stop tears the session down. Idempotent: calling it twice, or before any
// start, is safe. Local state is forced to inactive even when remote
// teardown fails; the failure is still returned.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	channel := c.channel
	relays := c.relays
	creds := c.creds
	c.channel = nil
	c.relays = nil
	c.creds = nil
	c.streamReady = false
	c.setQualityLocked(entities.ConnectionQualityUnknown)
	c.setStateLocked(entities.SessionStateInactive)
	c.mu.Unlock()

	for _, sub := range relays {
		sub.Unsubscribe()
	}

	var errs []error
	if channel != nil {
		if err := channel.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("transport teardown: %w", err))
		}
	}
	if creds != nil {
		if err := c.issuer.StopSession(ctx, creds); err != nil {
			errs = append(errs, fmt.Errorf("remote session stop: %w", err))
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		c.logger.Warn("Session teardown incomplete, state forced inactive", zap.Error(err))
		return err
	}
	c.logger.Info("Session stopped")
	return nil
}

// KeepAlive refreshes the remote idle timer. Custom mode sends the wire
// keep-alive event; managed mode calls the vendor's keep-alive endpoint.
// The calling cadence is owned by the caller's timer.
func (c *Controller) KeepAlive(ctx context.Context) error {
	c.mu.Lock()
	channel := c.channel
	creds := c.creds
	mode := c.mode
	c.mu.Unlock()

	if mode == entities.AvatarModeManaged {
		if creds == nil {
			return ErrNotInitialized
		}
		return c.issuer.KeepAlive(ctx, creds)
	}
	if channel == nil {
		return ErrNotInitialized
	}
	return c.protocol.KeepAlive(ctx, channel)
}

// Credentials returns the currently issued credentials, or nil.
func (c *Controller) Credentials() *entities.SessionCredentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

// Channel exposes the live transport channel so the pipeline can deliver
// speech on it. Nil until Start succeeds in custom mode.
func (c *Controller) Channel() transport.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// State reports the current session lifecycle state.
func (c *Controller) State() entities.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsStreamReady reports whether the avatar stream has started rendering.
func (c *Controller) IsStreamReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamReady
}

// ConnectionQuality reports the transport-derived connection quality.
func (c *Controller) ConnectionQuality() entities.ConnectionQuality {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

// OnStateChange registers a session-state observer and returns its handle.
func (c *Controller) OnStateChange(fn func(entities.SessionState)) transport.Subscription {
	return c.stateObservers.Subscribe(fn)
}

// OnStreamReady registers a stream-readiness observer.
func (c *Controller) OnStreamReady(fn func(bool)) transport.Subscription {
	return c.readyObservers.Subscribe(fn)
}

// OnQualityChange registers a connection-quality observer.
func (c *Controller) OnQualityChange(fn func(entities.ConnectionQuality)) transport.Subscription {
	return c.qualityObservers.Subscribe(fn)
}

func (c *Controller) relayConnectionState(s transport.ConnectionState) {
	c.mu.Lock()
	switch s {
	case transport.StateDisconnected:
		if c.state == entities.SessionStateActive || c.state == entities.SessionStateLoading {
			c.setStateLocked(entities.SessionStateDisconnected)
		}
	case transport.StateConnected:
		if c.state == entities.SessionStateConnecting {
			c.setStateLocked(entities.SessionStateLoading)
		}
	}
	c.mu.Unlock()
}

func (c *Controller) relayStreamReady() {
	c.mu.Lock()
	c.streamReady = true
	c.setStateLocked(entities.SessionStateActive)
	c.mu.Unlock()
	c.readyObservers.Publish(true)
	c.logger.Info("Avatar stream ready")
}

func (c *Controller) relayQuality(q entities.ConnectionQuality) {
	c.mu.Lock()
	c.setQualityLocked(q)
	c.mu.Unlock()
}

func (c *Controller) setStateLocked(s entities.SessionState) {
	if c.state == s {
		return
	}
	c.state = s
	go c.stateObservers.Publish(s)
}

func (c *Controller) setQualityLocked(q entities.ConnectionQuality) {
	if c.quality == q {
		return
	}
	c.quality = q
	go c.qualityObservers.Publish(q)
}
