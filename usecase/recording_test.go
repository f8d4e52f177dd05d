package usecase

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/macahealth/maca-server/domain/entities"
)

type fakeCapture struct {
	frames chan []byte
	closed bool
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{frames: make(chan []byte, 16)}
}

func (c *fakeCapture) Frames() <-chan []byte { return c.frames }

func (c *fakeCapture) Format() (entities.ContainerFormat, int, int) {
	return entities.ContainerWebM, 48000, 16
}

func (c *fakeCapture) Close() error {
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}

type fakeSource struct {
	capture *fakeCapture
	openErr error
	opens   int
}

func (s *fakeSource) Open(ctx context.Context) (AudioCapture, error) {
	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.capture, nil
}

func newRecordingFixture(t *testing.T, source AudioSource) (*RecordingController, *mockSTT) {
	t.Helper()
	stt := &mockSTT{text: "captured speech"}
	llm := &mockLLM{session: &mockChatSession{reply: "reply"}}
	tts := &mockTTS{clip: replyClip()}
	pipeline := newTestPipeline(stt, llm, tts, newRecordingChannel())
	return NewRecordingController(pipeline, source, zap.NewNop()), stt
}

func TestRecordingRoundTrip(t *testing.T) {
	capture := newFakeCapture()
	source := &fakeSource{capture: capture}
	controller, stt := newRecordingFixture(t, source)

	if err := controller.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if !controller.IsRecording() {
		t.Fatal("controller not recording after start")
	}

	capture.frames <- []byte("chunk-one ")
	capture.frames <- []byte("chunk-two")

	if err := controller.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if controller.IsRecording() {
		t.Error("still recording after stop")
	}
	if stt.calls != 1 {
		t.Errorf("pipeline invoked %d times, want 1", stt.calls)
	}
	if !capture.closed {
		t.Error("capture device not released on stop")
	}
}

func TestStartRecordingMicrophoneDenied(t *testing.T) {
	source := &fakeSource{openErr: ErrMicrophoneAccess}
	controller, stt := newRecordingFixture(t, source)

	err := controller.StartRecording(context.Background())
	if !errors.Is(err, ErrMicrophoneAccess) {
		t.Fatalf("got %v, want ErrMicrophoneAccess", err)
	}
	if controller.IsRecording() {
		t.Error("recording active after failed start")
	}
	if stt.calls != 0 {
		t.Error("pipeline invoked after failed start")
	}
}

func TestStartRecordingWhileActiveIsNoop(t *testing.T) {
	capture := newFakeCapture()
	source := &fakeSource{capture: capture}
	controller, _ := newRecordingFixture(t, source)

	if err := controller.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := controller.StartRecording(context.Background()); err != nil {
		t.Fatalf("second StartRecording: %v", err)
	}
	if source.opens != 1 {
		t.Errorf("source opened %d times, want 1", source.opens)
	}

	capture.frames <- []byte("audio")
	if err := controller.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
}

func TestStopRecordingIdempotent(t *testing.T) {
	capture := newFakeCapture()
	source := &fakeSource{capture: capture}
	controller, stt := newRecordingFixture(t, source)

	if err := controller.StopRecording(context.Background()); err != nil {
		t.Fatalf("stop with no recording: %v", err)
	}

	if err := controller.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	capture.frames <- []byte("audio")
	if err := controller.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if err := controller.StopRecording(context.Background()); err != nil {
		t.Fatalf("repeated stop: %v", err)
	}
	if stt.calls != 1 {
		t.Errorf("pipeline invoked %d times, want 1", stt.calls)
	}
}

func TestStopRecordingDropsEmptyClip(t *testing.T) {
	capture := newFakeCapture()
	source := &fakeSource{capture: capture}
	controller, stt := newRecordingFixture(t, source)

	if err := controller.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := controller.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if stt.calls != 0 {
		t.Error("pipeline invoked for an empty recording")
	}
}
