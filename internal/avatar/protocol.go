package avatar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/internal/audio"
	"github.com/macahealth/maca-server/internal/transport"
)

const (
	// SpeakChunkThreshold is the maximum base64 length sent as a single
	// agent.speak event; longer payloads are split into a chunked burst.
	SpeakChunkThreshold = 500_000

	// defaultChunkDelay paces chunks of one burst so the channel is not
	// overwhelmed.
	defaultChunkDelay = 30 * time.Millisecond
)

// SpeechOptions declare the encoding of audio handed to SendSpeech.
// The renderer requires 16-bit PCM at its configured sample rate; this
// layer extracts PCM from WAV containers but never resamples.
type SpeechOptions struct {
	SourceFormat entities.ContainerFormat
	SampleRateHz int
}

// Protocol translates speaking intents into wire events and pushes them
// through a transport channel. It holds no session state and is safe to
// share between pipeline and session controller. Failures propagate to the
// caller; no retry happens at this layer.
type Protocol struct {
	logger     *zap.Logger
	chunkDelay time.Duration
}

// NewProtocol creates a protocol bound to a logger.
func NewProtocol(logger *zap.Logger) *Protocol {
	return &Protocol{
		logger:     logger,
		chunkDelay: defaultChunkDelay,
	}
}

// SendSpeech delivers one utterance of synthesized audio. WAV input is
// unwrapped to raw PCM first. Payloads above SpeakChunkThreshold (after
// base64 encoding) are split into ordered agent.speak events sharing one
// event_id; delivery ordering relies on the channel's reliable mode.
// Exactly one agent.speak_end with the same event_id always closes the
// burst.
func (p *Protocol) SendSpeech(ctx context.Context, ch transport.Channel, audioData []byte, opts SpeechOptions) error {
	if opts.SourceFormat == entities.ContainerWAV {
		pcm, err := audio.ExtractPCMFromWAV(audioData)
		if err != nil {
			if !errors.Is(err, audio.ErrMalformedContainer) {
				return err
			}
			// Non-fatal: pass the buffer through untouched.
			p.logger.Warn("WAV container could not be parsed, sending as-is",
				zap.Int("size", len(audioData)))
		}
		audioData = pcm
	}

	encoded := audio.ToBase64(audioData)
	eventID := uuid.NewString()

	if len(encoded) > SpeakChunkThreshold {
		first := true
		for chunk := range audio.Chunks(encoded, SpeakChunkThreshold) {
			if !first {
				select {
				case <-ctx.Done():
					return fmt.Errorf("speech burst interrupted: %w", ctx.Err())
				case <-time.After(p.chunkDelay):
				}
			}
			first = false

			if err := p.publish(ctx, ch, Event{Type: EventSpeak, Audio: chunk, EventID: eventID}); err != nil {
				return err
			}
		}
	} else {
		if err := p.publish(ctx, ch, Event{Type: EventSpeak, Audio: encoded, EventID: eventID}); err != nil {
			return err
		}
	}

	return p.publish(ctx, ch, Event{Type: EventSpeakEnd, EventID: eventID})
}

// SendInterrupt asks the renderer to cut the current utterance. Best
// effort: it may race an in-flight speak burst.
func (p *Protocol) SendInterrupt(ctx context.Context, ch transport.Channel) error {
	return p.publish(ctx, ch, Event{Type: EventInterrupt})
}

// StartListening signals the renderer that audio is about to arrive.
func (p *Protocol) StartListening(ctx context.Context, ch transport.Channel) error {
	return p.publish(ctx, ch, Event{Type: EventStartListening, EventID: uuid.NewString()})
}

// StopListening returns the renderer to its idle animation state.
func (p *Protocol) StopListening(ctx context.Context, ch transport.Channel) error {
	return p.publish(ctx, ch, Event{Type: EventStopListening, EventID: uuid.NewString()})
}

// KeepAlive refreshes the remote session idle timer. The calling cadence
// is owned by the session controller's caller, not by this layer.
func (p *Protocol) KeepAlive(ctx context.Context, ch transport.Channel) error {
	return p.publish(ctx, ch, Event{Type: EventKeepAlive, EventID: uuid.NewString()})
}

func (p *Protocol) publish(ctx context.Context, ch transport.Channel, event Event) error {
	payload, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	if err := ch.Publish(ctx, payload, transport.PublishOptions{Reliable: true}); err != nil {
		p.logger.Error("Failed to publish avatar event",
			zap.String("type", string(event.Type)),
			zap.Error(err))
		return err
	}
	return nil
}
