package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/domain/repositories"
	"github.com/macahealth/maca-server/internal/avatar"
	"github.com/macahealth/maca-server/internal/transport"
)

// Stage identifies where a conversation turn currently is. A turn moves
// strictly forward through the stages; idle means no turn is in flight.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageTranscribing Stage = "transcribing"
	StageThinking     Stage = "thinking"
	StageSynthesizing Stage = "synthesizing"
	StageDelivering   Stage = "delivering"
)

var (
	// ErrTurnInProgress rejects a ProcessVoiceInput call that arrives
	// while another turn is still running. The new call is dropped,
	// never queued.
	ErrTurnInProgress = errors.New("conversation turn already in progress")

	ErrEmptyTranscript = errors.New("transcription produced empty text")
	ErrEmptyReply      = errors.New("language model produced empty reply")
	ErrEmptyAudio      = errors.New("synthesis produced empty audio")
)

// StageError wraps a turn failure with the stage that caused it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageTimeouts bound each network-facing stage of a turn. A zero value
// for any field falls back to its default.
type StageTimeouts struct {
	Transcribe time.Duration
	Reply      time.Duration
	Synthesize time.Duration
	Deliver    time.Duration
}

func (t StageTimeouts) withDefaults() StageTimeouts {
	if t.Transcribe <= 0 {
		t.Transcribe = 15 * time.Second
	}
	if t.Reply <= 0 {
		t.Reply = 30 * time.Second
	}
	if t.Synthesize <= 0 {
		t.Synthesize = 15 * time.Second
	}
	if t.Deliver <= 0 {
		t.Deliver = 15 * time.Second
	}
	return t
}

// Callbacks let a caller observe turn progress. OnStage fires synchronously
// when a stage begins; OnTurnComplete fires once after a successful commit;
// OnTurnError fires once with the failing stage. Nil callbacks are skipped.
type Callbacks struct {
	OnStage        func(Stage)
	OnTurnComplete func(userText, replyText string)
	OnTurnError    func(stage Stage, err error)
}

// ConversationPipeline orchestrates one voice turn: transcribe the clip,
// generate a reply from the accumulated history, synthesize speech and
// deliver it to the avatar renderer. It exclusively owns the conversation
// history; history gains exactly two messages per successful turn and none
// on failure.
type ConversationPipeline struct {
	speechToText repositories.SpeechToText
	languageMode repositories.LargeLanguageModel
	textToSpeech repositories.TextToSpeech
	protocol     *avatar.Protocol
	logger       *zap.Logger

	timeouts  StageTimeouts
	callbacks Callbacks
	voice     repositories.VoiceOptions
	language  string

	mu         sync.Mutex
	channel    transport.Channel
	stage      Stage
	generation uint64
	history    []entities.ConversationMessage
}

// NewConversationPipeline creates a pipeline over the three speech
// collaborators. The transport channel is attached later, once the session
// controller has established it.
func NewConversationPipeline(
	stt repositories.SpeechToText,
	llm repositories.LargeLanguageModel,
	tts repositories.TextToSpeech,
	protocol *avatar.Protocol,
	logger *zap.Logger,
) *ConversationPipeline {
	return &ConversationPipeline{
		speechToText: stt,
		languageMode: llm,
		textToSpeech: tts,
		protocol:     protocol,
		logger:       logger,
		timeouts:     StageTimeouts{}.withDefaults(),
		stage:        StageIdle,
	}
}

// AttachChannel points speech delivery at an established transport channel.
func (p *ConversationPipeline) AttachChannel(ch transport.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channel = ch
}

// SetCallbacks registers turn observers. Must be called before the first
// ProcessVoiceInput.
func (p *ConversationPipeline) SetCallbacks(cb Callbacks) {
	p.callbacks = cb
}

// SetTimeouts overrides per-stage deadlines. Zero fields keep defaults.
func (p *ConversationPipeline) SetTimeouts(t StageTimeouts) {
	p.timeouts = t.withDefaults()
}

// SetVoice selects the synthesis voice for assistant replies.
func (p *ConversationPipeline) SetVoice(v repositories.VoiceOptions) {
	p.voice = v
}

// SetLanguage sets the transcription language hint. Empty means auto-detect.
func (p *ConversationPipeline) SetLanguage(lang string) {
	p.language = lang
}

// Stage reports the stage of the in-flight turn, or StageIdle.
func (p *ConversationPipeline) Stage() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

// History returns a copy of the committed conversation history.
func (p *ConversationPipeline) History() []entities.ConversationMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.history)
}

// ResetConversation clears the committed history. An in-flight turn keeps
// running, but its commit is discarded because the generation it was
// tagged with no longer matches.
func (p *ConversationPipeline) ResetConversation() {
	p.mu.Lock()
	p.history = nil
	p.generation++
	p.mu.Unlock()
	p.logger.Info("Conversation history reset")
}

// ProcessVoiceInput runs one full turn for the captured clip. At most one
// turn runs at a time; a call arriving while a turn is in flight returns
// ErrTurnInProgress without queueing. On any stage failure the turn aborts
// with no history change and the error, tagged with its stage, is returned
// and surfaced through the error callback.
func (p *ConversationPipeline) ProcessVoiceInput(ctx context.Context, clip *entities.AudioClip) error {
	p.mu.Lock()
	if p.stage != StageIdle {
		p.mu.Unlock()
		p.logger.Warn("Dropping voice input, turn already in flight")
		return ErrTurnInProgress
	}
	p.stage = StageTranscribing
	generation := p.generation
	prior := slices.Clone(p.history)
	channel := p.channel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.stage = StageIdle
		p.mu.Unlock()
	}()

	p.notifyStage(StageTranscribing)
	userText, err := p.transcribe(ctx, clip)
	if err != nil {
		return p.fail(StageTranscribing, err)
	}

	p.enterStage(StageThinking)
	replyText, err := p.reply(ctx, prior, userText)
	if err != nil {
		return p.fail(StageThinking, err)
	}

	p.enterStage(StageSynthesizing)
	speech, err := p.synthesize(ctx, replyText)
	if err != nil {
		return p.fail(StageSynthesizing, err)
	}

	p.enterStage(StageDelivering)
	if err := p.deliver(ctx, channel, speech); err != nil {
		return p.fail(StageDelivering, err)
	}

	p.commit(generation, userText, replyText)

	if p.callbacks.OnTurnComplete != nil {
		p.callbacks.OnTurnComplete(userText, replyText)
	}
	return nil
}

// Interrupt asks the renderer to cut the current utterance. Best effort:
// it does not cancel an in-flight turn and may race a speak burst.
func (p *ConversationPipeline) Interrupt(ctx context.Context) error {
	p.mu.Lock()
	channel := p.channel
	p.mu.Unlock()
	if channel == nil {
		return transport.ErrNotConnected
	}
	return p.protocol.SendInterrupt(ctx, channel)
}

func (p *ConversationPipeline) transcribe(ctx context.Context, clip *entities.AudioClip) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Transcribe)
	defer cancel()

	transcript, err := p.speechToText.Transcribe(ctx, clip, p.language)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	p.logger.Info("Transcription completed", zap.String("text", text))
	return text, nil
}

func (p *ConversationPipeline) reply(ctx context.Context, prior []entities.ConversationMessage, userText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Reply)
	defer cancel()

	session, err := p.languageMode.GenerateChat(ctx, prior)
	if err != nil {
		return "", err
	}
	reply, err := session.SendMessage(ctx, entities.ConversationMessage{
		Role:    entities.MessageRoleUser,
		Content: userText,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(reply.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	p.logger.Info("Reply generated", zap.Int("length", len(text)))
	return text, nil
}

func (p *ConversationPipeline) synthesize(ctx context.Context, replyText string) (*entities.AudioClip, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Synthesize)
	defer cancel()

	speech, err := p.textToSpeech.Synthesize(ctx, replyText, p.voice)
	if err != nil {
		return nil, err
	}
	if speech == nil || len(speech.Data) == 0 {
		return nil, ErrEmptyAudio
	}
	return speech, nil
}

// deliver brackets the speak burst with listening signals. All three sends
// must succeed for the turn to count as delivered.
func (p *ConversationPipeline) deliver(ctx context.Context, channel transport.Channel, speech *entities.AudioClip) error {
	if channel == nil {
		return transport.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Deliver)
	defer cancel()

	if err := p.protocol.StartListening(ctx, channel); err != nil {
		return err
	}
	if err := p.protocol.SendSpeech(ctx, channel, speech.Data, avatar.SpeechOptions{
		SourceFormat: speech.Format,
		SampleRateHz: speech.SampleRateHz,
	}); err != nil {
		return err
	}
	return p.protocol.StopListening(ctx, channel)
}

// commit appends the turn's two messages, unless a reset happened while
// the turn was in flight.
func (p *ConversationPipeline) commit(generation uint64, userText, replyText string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation != generation {
		p.logger.Info("Discarding turn commit, history was reset mid-turn")
		return
	}
	p.history = append(p.history,
		entities.ConversationMessage{Role: entities.MessageRoleUser, Content: userText},
		entities.ConversationMessage{Role: entities.MessageRoleAssistant, Content: replyText},
	)
}

func (p *ConversationPipeline) enterStage(s Stage) {
	p.mu.Lock()
	p.stage = s
	p.mu.Unlock()
	p.notifyStage(s)
}

func (p *ConversationPipeline) notifyStage(s Stage) {
	if p.callbacks.OnStage != nil {
		p.callbacks.OnStage(s)
	}
}

func (p *ConversationPipeline) fail(stage Stage, err error) error {
	stageErr := &StageError{Stage: stage, Err: err}
	p.logger.Error("Conversation turn failed",
		zap.String("stage", string(stage)),
		zap.Error(err))
	if p.callbacks.OnTurnError != nil {
		p.callbacks.OnTurnError(stage, stageErr)
	}
	return stageErr
}
