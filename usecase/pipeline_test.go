package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/domain/repositories"
	"github.com/macahealth/maca-server/internal/avatar"
	"github.com/macahealth/maca-server/internal/transport"
)

type mockSTT struct {
	mu      sync.Mutex
	calls   int
	text    string
	err     error
	release chan struct{} // when set, Transcribe blocks until closed
}

func (m *mockSTT) Transcribe(ctx context.Context, clip *entities.AudioClip, language string) (repositories.Transcript, error) {
	m.mu.Lock()
	m.calls++
	release := m.release
	m.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return repositories.Transcript{}, ctx.Err()
		}
	}
	if m.err != nil {
		return repositories.Transcript{}, m.err
	}
	return repositories.Transcript{Text: m.text}, nil
}

type mockChatSession struct {
	reply   string
	err     error
	history []entities.ConversationMessage
}

func (m *mockChatSession) SendMessage(ctx context.Context, msg entities.ConversationMessage) (entities.ConversationMessage, error) {
	if m.err != nil {
		return entities.ConversationMessage{}, m.err
	}
	return entities.ConversationMessage{Role: entities.MessageRoleAssistant, Content: m.reply}, nil
}

func (m *mockChatSession) History() ([]entities.ConversationMessage, error) {
	return m.history, nil
}

type mockLLM struct {
	mu      sync.Mutex
	calls   int
	seeded  []entities.ConversationMessage
	session *mockChatSession
	err     error
}

func (m *mockLLM) GenerateChat(ctx context.Context, history []entities.ConversationMessage) (repositories.ChatSession, error) {
	m.mu.Lock()
	m.calls++
	m.seeded = history
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.session, nil
}

type mockTTS struct {
	mu      sync.Mutex
	calls   int
	clip    *entities.AudioClip
	err     error
	release chan struct{}
}

func (m *mockTTS) Synthesize(ctx context.Context, text string, opts repositories.VoiceOptions) (*entities.AudioClip, error) {
	m.mu.Lock()
	m.calls++
	release := m.release
	m.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.clip, nil
}

// recordingChannel implements transport.Channel and records publishes.
type recordingChannel struct {
	mu        sync.Mutex
	published [][]byte
	failAt    int // fail on the nth publish (0-based); -1 never fails
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{failAt: -1}
}

func (c *recordingChannel) Connect(ctx context.Context) error { return nil }
func (c *recordingChannel) Disconnect() error                 { return nil }
func (c *recordingChannel) State() transport.ConnectionState  { return transport.StateConnected }

func (c *recordingChannel) Publish(ctx context.Context, payload []byte, opts transport.PublishOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAt >= 0 && len(c.published) == c.failAt {
		return &transport.PublishError{Err: errors.New("wire down")}
	}
	c.published = append(c.published, payload)
	return nil
}

func (c *recordingChannel) OnStateChange(fn func(transport.ConnectionState)) transport.Subscription {
	return noopSubscription{}
}

func (c *recordingChannel) OnQualityChange(fn func(entities.ConnectionQuality)) transport.Subscription {
	return noopSubscription{}
}

func (c *recordingChannel) OnStreamReady(fn func()) transport.Subscription {
	return noopSubscription{}
}

func (c *recordingChannel) eventTypes(t *testing.T) []avatar.EventType {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]avatar.EventType, 0, len(c.published))
	for _, payload := range c.published {
		ev, err := avatar.ParseEvent(payload)
		if err != nil {
			t.Fatalf("unparseable wire event: %v", err)
		}
		types = append(types, ev.Type)
	}
	return types
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

func testClip() *entities.AudioClip {
	return &entities.AudioClip{
		Data:         []byte("webm-bytes"),
		Format:       entities.ContainerWebM,
		SampleRateHz: 48000,
		BitDepth:     16,
	}
}

func replyClip() *entities.AudioClip {
	return &entities.AudioClip{
		Data:         []byte{0x01, 0x02, 0x03, 0x04},
		Format:       entities.ContainerPCM,
		SampleRateHz: 24000,
		BitDepth:     16,
	}
}

func newTestPipeline(stt *mockSTT, llm *mockLLM, tts *mockTTS, ch transport.Channel) *ConversationPipeline {
	logger := zap.NewNop()
	p := NewConversationPipeline(stt, llm, tts, avatar.NewProtocol(logger), logger)
	if ch != nil {
		p.AttachChannel(ch)
	}
	return p
}

func TestProcessVoiceInputHappyPath(t *testing.T) {
	stt := &mockSTT{text: "hello there"}
	llm := &mockLLM{session: &mockChatSession{reply: "hi, how can I help?"}}
	tts := &mockTTS{clip: replyClip()}
	ch := newRecordingChannel()
	p := newTestPipeline(stt, llm, tts, ch)

	var stages []Stage
	var completedUser, completedReply string
	p.SetCallbacks(Callbacks{
		OnStage: func(s Stage) { stages = append(stages, s) },
		OnTurnComplete: func(user, reply string) {
			completedUser, completedReply = user, reply
		},
	})

	if err := p.ProcessVoiceInput(context.Background(), testClip()); err != nil {
		t.Fatalf("ProcessVoiceInput: %v", err)
	}

	wantStages := []Stage{StageTranscribing, StageThinking, StageSynthesizing, StageDelivering}
	if len(stages) != len(wantStages) {
		t.Fatalf("got %d stage callbacks, want %d", len(stages), len(wantStages))
	}
	for i, want := range wantStages {
		if stages[i] != want {
			t.Errorf("stage[%d] = %s, want %s", i, stages[i], want)
		}
	}

	if completedUser != "hello there" || completedReply != "hi, how can I help?" {
		t.Errorf("completion callback got (%q, %q)", completedUser, completedReply)
	}

	history := p.History()
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history))
	}
	if history[0].Role != entities.MessageRoleUser || history[0].Content != "hello there" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Role != entities.MessageRoleAssistant || history[1].Content != "hi, how can I help?" {
		t.Errorf("history[1] = %+v", history[1])
	}

	types := ch.eventTypes(t)
	want := []avatar.EventType{
		avatar.EventStartListening,
		avatar.EventSpeak,
		avatar.EventSpeakEnd,
		avatar.EventStopListening,
	}
	if len(types) != len(want) {
		t.Fatalf("published %d events, want %d: %v", len(types), len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}

	if p.Stage() != StageIdle {
		t.Errorf("pipeline not idle after turn: %s", p.Stage())
	}
}

func TestProcessVoiceInputEmptyTranscript(t *testing.T) {
	stt := &mockSTT{text: "   "}
	llm := &mockLLM{session: &mockChatSession{reply: "unused"}}
	tts := &mockTTS{clip: replyClip()}
	p := newTestPipeline(stt, llm, tts, newRecordingChannel())

	var failedStage Stage
	p.SetCallbacks(Callbacks{
		OnTurnError: func(stage Stage, err error) { failedStage = stage },
	})

	err := p.ProcessVoiceInput(context.Background(), testClip())
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("got %v, want ErrEmptyTranscript", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageTranscribing {
		t.Errorf("error not tagged with transcribing stage: %v", err)
	}
	if failedStage != StageTranscribing {
		t.Errorf("error callback stage = %s", failedStage)
	}
	if llm.calls != 0 || tts.calls != 0 {
		t.Errorf("later stages ran after transcription failure: llm=%d tts=%d", llm.calls, tts.calls)
	}
	if len(p.History()) != 0 {
		t.Errorf("history changed on failed turn")
	}
}

func TestProcessVoiceInputReplyFailureNoCommit(t *testing.T) {
	stt := &mockSTT{text: "question"}
	llm := &mockLLM{session: &mockChatSession{err: errors.New("model unavailable")}}
	tts := &mockTTS{clip: replyClip()}
	p := newTestPipeline(stt, llm, tts, newRecordingChannel())

	err := p.ProcessVoiceInput(context.Background(), testClip())
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageThinking {
		t.Fatalf("got %v, want thinking-stage error", err)
	}
	if tts.calls != 0 {
		t.Errorf("synthesis ran after reply failure")
	}
	if len(p.History()) != 0 {
		t.Errorf("user message committed without an assistant reply")
	}
}

func TestProcessVoiceInputDeliveryFailureNoCommit(t *testing.T) {
	stt := &mockSTT{text: "question"}
	llm := &mockLLM{session: &mockChatSession{reply: "answer"}}
	tts := &mockTTS{clip: replyClip()}
	ch := newRecordingChannel()
	ch.failAt = 1 // start_listening succeeds, the speak event fails
	p := newTestPipeline(stt, llm, tts, ch)

	err := p.ProcessVoiceInput(context.Background(), testClip())
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageDelivering {
		t.Fatalf("got %v, want delivering-stage error", err)
	}
	var pubErr *transport.PublishError
	if !errors.As(err, &pubErr) {
		t.Errorf("publish cause not preserved: %v", err)
	}
	if len(p.History()) != 0 {
		t.Errorf("history committed despite failed delivery")
	}
}

func TestProcessVoiceInputNoChannel(t *testing.T) {
	stt := &mockSTT{text: "question"}
	llm := &mockLLM{session: &mockChatSession{reply: "answer"}}
	tts := &mockTTS{clip: replyClip()}
	p := newTestPipeline(stt, llm, tts, nil)

	err := p.ProcessVoiceInput(context.Background(), testClip())
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestProcessVoiceInputRejectsConcurrentTurn(t *testing.T) {
	release := make(chan struct{})
	stt := &mockSTT{text: "slow", release: release}
	llm := &mockLLM{session: &mockChatSession{reply: "answer"}}
	tts := &mockTTS{clip: replyClip()}
	p := newTestPipeline(stt, llm, tts, newRecordingChannel())

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- p.ProcessVoiceInput(context.Background(), testClip())
	}()

	// Wait for the first turn to enter transcription.
	for {
		stt.mu.Lock()
		started := stt.calls > 0
		stt.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := p.ProcessVoiceInput(context.Background(), testClip()); !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("concurrent call got %v, want ErrTurnInProgress", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if len(p.History()) != 2 {
		t.Errorf("history has %d messages, want 2", len(p.History()))
	}
}

func TestResetConversationDiscardsInFlightCommit(t *testing.T) {
	release := make(chan struct{})
	stt := &mockSTT{text: "question"}
	llm := &mockLLM{session: &mockChatSession{reply: "answer"}}
	tts := &mockTTS{clip: replyClip(), release: release}
	p := newTestPipeline(stt, llm, tts, newRecordingChannel())

	done := make(chan error, 1)
	go func() {
		done <- p.ProcessVoiceInput(context.Background(), testClip())
	}()

	// Wait until the turn is parked in synthesis, then reset.
	for {
		tts.mu.Lock()
		started := tts.calls > 0
		tts.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}
	p.ResetConversation()
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if got := len(p.History()); got != 0 {
		t.Errorf("stale turn resurrected %d messages after reset", got)
	}
}

func TestProcessVoiceInputSeedsPriorHistory(t *testing.T) {
	stt := &mockSTT{text: "second question"}
	llm := &mockLLM{session: &mockChatSession{reply: "second answer"}}
	tts := &mockTTS{clip: replyClip()}
	p := newTestPipeline(stt, llm, tts, newRecordingChannel())

	if err := p.ProcessVoiceInput(context.Background(), testClip()); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if err := p.ProcessVoiceInput(context.Background(), testClip()); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	// The second turn must be seeded with exactly the first turn's two
	// committed messages.
	llm.mu.Lock()
	seeded := llm.seeded
	llm.mu.Unlock()
	if len(seeded) != 2 {
		t.Fatalf("second turn seeded with %d messages, want 2", len(seeded))
	}
	if len(p.History()) != 4 {
		t.Errorf("history has %d messages, want 4", len(p.History()))
	}
}
