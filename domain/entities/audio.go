package entities

// ContainerFormat declares the container/encoding of an audio payload.
type ContainerFormat string

const (
	ContainerWebM ContainerFormat = "webm"
	ContainerWAV  ContainerFormat = "wav"
	ContainerPCM  ContainerFormat = "pcm"
)

// AudioClip is a transient binary audio payload together with its declared
// encoding metadata. It is created by a recording or a TTS response and
// consumed exactly once by the next pipeline stage.
type AudioClip struct {
	Data         []byte
	Format       ContainerFormat
	SampleRateHz int
	BitDepth     int
}
