package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
)

// ErrMicrophoneAccess is returned by an AudioSource when the capture
// device does not exist or access to it was denied. It is propagated to
// the caller of StartRecording unmodified and never retried.
var ErrMicrophoneAccess = errors.New("microphone unavailable or access denied")

// AudioSource acquires a capture device on demand. Open fails with
// ErrMicrophoneAccess when no device is available.
type AudioSource interface {
	Open(ctx context.Context) (AudioCapture, error)
}

// AudioCapture is one active capture. Frames delivers encoded audio
// frames until Close, after which the channel is closed and drained.
type AudioCapture interface {
	Frames() <-chan []byte
	// Format declares the container, sample rate and bit depth of the
	// frames this capture produces.
	Format() (entities.ContainerFormat, int, int)
	Close() error
}

// RecordingController implements press-to-talk capture: StartRecording
// acquires the audio source and accumulates its frames, StopRecording
// finalizes the accumulator into one clip and hands it to the pipeline.
// At most one recording is active per controller.
type RecordingController struct {
	pipeline *ConversationPipeline
	source   AudioSource
	logger   *zap.Logger

	mu        sync.Mutex
	capture   AudioCapture
	buf       bytes.Buffer
	collected chan struct{}
}

// NewRecordingController creates a controller feeding completed clips into
// the pipeline.
func NewRecordingController(pipeline *ConversationPipeline, source AudioSource, logger *zap.Logger) *RecordingController {
	return &RecordingController{
		pipeline: pipeline,
		source:   source,
		logger:   logger,
	}
}

// StartRecording acquires the capture device and begins buffering frames.
// A call while a recording is already active is a no-op.
func (r *RecordingController) StartRecording(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture != nil {
		r.logger.Warn("Recording already active, ignoring start")
		return nil
	}

	capture, err := r.source.Open(ctx)
	if err != nil {
		return fmt.Errorf("acquire audio source: %w", err)
	}

	r.capture = capture
	r.buf.Reset()
	r.collected = make(chan struct{})

	go r.collect(capture, r.collected)

	r.logger.Info("Recording started")
	return nil
}

// collect drains the capture's frame channel into the accumulator. It
// runs until the capture closes the channel.
func (r *RecordingController) collect(capture AudioCapture, done chan struct{}) {
	defer close(done)
	for frame := range capture.Frames() {
		r.mu.Lock()
		r.buf.Write(frame)
		r.mu.Unlock()
	}
}

// StopRecording releases the capture device, finalizes the buffered audio
// into one clip and hands it to the pipeline. Calling it with no active
// recording is a no-op. An empty recording is dropped without invoking
// the pipeline.
func (r *RecordingController) StopRecording(ctx context.Context) error {
	r.mu.Lock()
	capture := r.capture
	collected := r.collected
	r.capture = nil
	r.collected = nil
	r.mu.Unlock()

	if capture == nil {
		return nil
	}

	if err := capture.Close(); err != nil {
		r.logger.Warn("Audio capture close failed", zap.Error(err))
	}
	// Wait for the frame channel to drain so the clip is complete.
	<-collected

	format, sampleRate, bitDepth := capture.Format()

	r.mu.Lock()
	data := bytes.Clone(r.buf.Bytes())
	r.buf.Reset()
	r.mu.Unlock()

	if len(data) == 0 {
		r.logger.Warn("Recording produced no audio, dropping")
		return nil
	}

	clip := &entities.AudioClip{
		Data:         data,
		Format:       format,
		SampleRateHz: sampleRate,
		BitDepth:     bitDepth,
	}

	r.logger.Info("Recording finalized",
		zap.Int("bytes", len(data)),
		zap.String("format", string(format)))

	return r.pipeline.ProcessVoiceInput(ctx, clip)
}

// IsRecording reports whether a capture is currently active.
func (r *RecordingController) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capture != nil
}
