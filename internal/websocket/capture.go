package websocket

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
	"github.com/macahealth/maca-server/usecase"
)

const (
	defaultSampleRate = 48000
	defaultBitDepth   = 16

	// Frames buffered between the read pump and the recorder's collector.
	frameBufferSize = 256
)

// captureConfig is the audio format the browser announced in its
// listening_start message.
type captureConfig struct {
	format     entities.ContainerFormat
	sampleRate int
}

func containerFromString(s string) entities.ContainerFormat {
	switch s {
	case "wav":
		return entities.ContainerWAV
	case "pcm":
		return entities.ContainerPCM
	default:
		return entities.ContainerWebM
	}
}

// frameCapture is one press-to-talk recording fed by binary websocket
// frames. It satisfies usecase.AudioCapture.
type frameCapture struct {
	frames chan []byte
	config captureConfig
	logger *zap.Logger

	closeOnce sync.Once
}

func (f *frameCapture) Frames() <-chan []byte {
	return f.frames
}

func (f *frameCapture) Format() (entities.ContainerFormat, int, int) {
	return f.config.format, f.config.sampleRate, defaultBitDepth
}

func (f *frameCapture) Close() error {
	f.closeOnce.Do(func() {
		close(f.frames)
	})
	return nil
}

// push hands one frame to the collector. Closing races the read pump, so
// a send after Close is absorbed here instead of panicking.
func (f *frameCapture) push(data []byte) {
	defer func() {
		if recover() != nil {
			f.logger.Warn("Dropped audio frame, capture already closed")
		}
	}()
	select {
	case f.frames <- data:
	default:
		f.logger.Warn("Frame buffer full, dropping audio frame",
			zap.Int("size", len(data)))
	}
}

// Open satisfies usecase.AudioSource: the websocket connection is the
// microphone. The browser owns the real device, so acquisition cannot fail
// here; frames simply arrive as binary messages until listening_end.
func (c *Client) Open(ctx context.Context) (usecase.AudioCapture, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	config := c.pending
	if config.sampleRate <= 0 {
		config.sampleRate = defaultSampleRate
	}
	if config.format == "" {
		config.format = entities.ContainerWebM
	}

	capture := &frameCapture{
		frames: make(chan []byte, frameBufferSize),
		config: config,
		logger: c.logger,
	}
	c.capture = capture
	return capture, nil
}
