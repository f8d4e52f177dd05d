package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/internal/avatar"
	"github.com/macahealth/maca-server/internal/transport"
)

type fakeIssuer struct {
	creds      *entities.SessionCredentials
	issueErr   error
	stopErr    error
	issued     int
	stopped    int
	keptAlive  int
	issuedMode entities.AvatarMode
}

func (f *fakeIssuer) IssueSession(ctx context.Context, mode entities.AvatarMode) (*entities.SessionCredentials, error) {
	f.issued++
	f.issuedMode = mode
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	return f.creds, nil
}

func (f *fakeIssuer) StopSession(ctx context.Context, creds *entities.SessionCredentials) error {
	f.stopped++
	return f.stopErr
}

func (f *fakeIssuer) KeepAlive(ctx context.Context, creds *entities.SessionCredentials) error {
	f.keptAlive++
	return nil
}

type scriptedChannel struct {
	connectErr    error
	connectGate   chan struct{} // when set, Connect blocks until closed
	disconnectErr error
	connected     bool
	disconnected  int
	published     [][]byte

	stateObservers   transport.Notifier[transport.ConnectionState]
	qualityObservers transport.Notifier[entities.ConnectionQuality]
	readyObservers   transport.Notifier[struct{}]
}

func (s *scriptedChannel) Connect(ctx context.Context) error {
	if s.connectGate != nil {
		<-s.connectGate
	}
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *scriptedChannel) Disconnect() error {
	s.disconnected++
	s.connected = false
	return s.disconnectErr
}

func (s *scriptedChannel) Publish(ctx context.Context, payload []byte, opts transport.PublishOptions) error {
	s.published = append(s.published, payload)
	return nil
}

func (s *scriptedChannel) State() transport.ConnectionState {
	if s.connected {
		return transport.StateConnected
	}
	return transport.StateDisconnected
}

func (s *scriptedChannel) OnStateChange(fn func(transport.ConnectionState)) transport.Subscription {
	return s.stateObservers.Subscribe(fn)
}

func (s *scriptedChannel) OnQualityChange(fn func(entities.ConnectionQuality)) transport.Subscription {
	return s.qualityObservers.Subscribe(fn)
}

func (s *scriptedChannel) OnStreamReady(fn func()) transport.Subscription {
	return s.readyObservers.Subscribe(func(struct{}) { fn() })
}

func validCreds() *entities.SessionCredentials {
	return &entities.SessionCredentials{
		SessionID:            "sess-1",
		SessionToken:         "tok-1",
		TransportURL:         "wss://renderer.example/session",
		TransportClientToken: "client-tok-1",
	}
}

func newTestController(issuer *fakeIssuer, ch *scriptedChannel, mode entities.AvatarMode) *Controller {
	logger := zap.NewNop()
	c := NewController(issuer, avatar.NewProtocol(logger), mode, logger)
	if ch != nil {
		c.SetChannelFactory(func(creds *entities.SessionCredentials, logger *zap.Logger) transport.Channel {
			return ch
		})
	}
	return c
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartBeforeInitialize(t *testing.T) {
	c := newTestController(&fakeIssuer{creds: validCreds()}, &scriptedChannel{}, entities.AvatarModeCustom)
	if err := c.Start(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("got %v, want ErrNotInitialized", err)
	}
	if c.State() != entities.SessionStateInactive {
		t.Errorf("state = %s after rejected start", c.State())
	}
}

func TestSessionLifecycleCustomMode(t *testing.T) {
	issuer := &fakeIssuer{creds: validCreds()}
	ch := &scriptedChannel{}
	c := newTestController(issuer, ch, entities.AvatarModeCustom)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if issuer.issuedMode != entities.AvatarModeCustom {
		t.Errorf("issued mode = %s", issuer.issuedMode)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.State() != entities.SessionStateLoading {
		t.Fatalf("state = %s after connect, want loading", c.State())
	}
	if c.IsStreamReady() {
		t.Error("stream ready before renderer produced traffic")
	}

	ch.readyObservers.Publish(struct{}{})
	waitFor(t, func() bool { return c.State() == entities.SessionStateActive },
		"session never became active after stream ready")
	if !c.IsStreamReady() {
		t.Error("stream-ready flag not set")
	}
	if c.Channel() == nil {
		t.Error("no channel exposed for an active custom session")
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.State() != entities.SessionStateInactive {
		t.Errorf("state = %s after stop", c.State())
	}
	if ch.disconnected != 1 || issuer.stopped != 1 {
		t.Errorf("teardown calls: disconnect=%d remoteStop=%d", ch.disconnected, issuer.stopped)
	}
}

func TestStartWhileStartResolving(t *testing.T) {
	gate := make(chan struct{})
	ch := &scriptedChannel{connectGate: gate}
	c := newTestController(&fakeIssuer{creds: validCreds()}, ch, entities.AvatarModeCustom)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	firstDone := make(chan error, 1)
	go func() { firstDone <- c.Start(context.Background()) }()

	waitFor(t, func() bool { return c.State() == entities.SessionStateConnecting },
		"first start never began connecting")

	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyInitializing) {
		t.Fatalf("concurrent start got %v, want ErrAlreadyInitializing", err)
	}

	close(gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first start failed: %v", err)
	}
}

func TestStopWhileStartConnecting(t *testing.T) {
	gate := make(chan struct{})
	ch := &scriptedChannel{connectGate: gate}
	c := newTestController(&fakeIssuer{creds: validCreds()}, ch, entities.AvatarModeCustom)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	startDone := make(chan error, 1)
	go func() { startDone <- c.Start(context.Background()) }()

	waitFor(t, func() bool { return c.State() == entities.SessionStateConnecting },
		"start never began connecting")

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	close(gate)
	if err := <-startDone; !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("start after stop got %v, want ErrNotInitialized", err)
	}
	if c.State() != entities.SessionStateInactive {
		t.Errorf("state = %s after stop won the race", c.State())
	}
	if c.Channel() != nil {
		t.Error("stopped controller still exposes a channel")
	}
	if ch.disconnected != 1 {
		t.Errorf("freshly connected channel torn down %d times, want 1", ch.disconnected)
	}
}

func TestStartConnectFailure(t *testing.T) {
	ch := &scriptedChannel{connectErr: errors.New("dial refused")}
	c := newTestController(&fakeIssuer{creds: validCreds()}, ch, entities.AvatarModeCustom)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("start succeeded despite connect failure")
	}
	if c.State() != entities.SessionStateError {
		t.Errorf("state = %s after failed connect, want error", c.State())
	}
	if c.Channel() != nil {
		t.Error("channel exposed after failed connect")
	}
}

func TestStopIdempotent(t *testing.T) {
	issuer := &fakeIssuer{creds: validCreds()}
	c := newTestController(issuer, &scriptedChannel{}, entities.AvatarModeCustom)

	// Never started.
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop of idle controller: %v", err)
	}
	if c.State() != entities.SessionStateInactive {
		t.Errorf("state = %s", c.State())
	}

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if c.State() != entities.SessionStateInactive {
		t.Errorf("state = %s after double stop", c.State())
	}
	if issuer.stopped != 1 {
		t.Errorf("remote stop called %d times, want 1", issuer.stopped)
	}
}

func TestStopForcesInactiveOnTeardownFailure(t *testing.T) {
	issuer := &fakeIssuer{creds: validCreds(), stopErr: errors.New("vendor unreachable")}
	ch := &scriptedChannel{disconnectErr: errors.New("socket already gone")}
	c := newTestController(issuer, ch, entities.AvatarModeCustom)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := c.Stop(context.Background())
	if err == nil {
		t.Fatal("stop swallowed teardown failures")
	}
	if c.State() != entities.SessionStateInactive {
		t.Errorf("state = %s, want inactive despite teardown failure", c.State())
	}
}

func TestManagedModeLifecycle(t *testing.T) {
	issuer := &fakeIssuer{creds: validCreds()}
	c := newTestController(issuer, nil, entities.AvatarModeManaged)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.State() != entities.SessionStateActive {
		t.Fatalf("state = %s, want active", c.State())
	}
	if c.Channel() != nil {
		t.Error("managed session exposed a transport channel")
	}

	if err := c.KeepAlive(context.Background()); err != nil {
		t.Fatalf("KeepAlive: %v", err)
	}
	if issuer.keptAlive != 1 {
		t.Errorf("vendor keep-alive called %d times, want 1", issuer.keptAlive)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.State() != entities.SessionStateInactive {
		t.Errorf("state = %s after stop", c.State())
	}
}

func TestCustomModeKeepAliveOnWire(t *testing.T) {
	ch := &scriptedChannel{}
	c := newTestController(&fakeIssuer{creds: validCreds()}, ch, entities.AvatarModeCustom)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.KeepAlive(context.Background()); err != nil {
		t.Fatalf("KeepAlive: %v", err)
	}
	if len(ch.published) != 1 {
		t.Fatalf("published %d events, want 1", len(ch.published))
	}
	ev, err := avatar.ParseEvent(ch.published[0])
	if err != nil {
		t.Fatalf("unparseable keep-alive: %v", err)
	}
	if ev.Type != avatar.EventKeepAlive {
		t.Errorf("event type = %s, want %s", ev.Type, avatar.EventKeepAlive)
	}
	if ev.EventID == "" {
		t.Error("keep-alive missing event_id")
	}
}

func TestStateObserverUnsubscribe(t *testing.T) {
	ch := &scriptedChannel{}
	c := newTestController(&fakeIssuer{creds: validCreds()}, ch, entities.AvatarModeCustom)

	states := make(chan entities.SessionState, 8)
	sub := c.OnStateChange(func(s entities.SessionState) { states <- s })

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case s := <-states:
		if s != entities.SessionStateConnecting && s != entities.SessionStateLoading {
			t.Errorf("observed state = %s, want connecting or loading", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("state observer never fired")
	}

	sub.Unsubscribe()
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Drain anything emitted before the unsubscribe took effect; nothing
	// from the stop transition may arrive afterwards.
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case s := <-states:
			if s == entities.SessionStateInactive {
				t.Fatal("observer fired after unsubscribe")
			}
		case <-deadline:
			return
		}
	}
}
