package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrMalformedContainer reports a buffer that is not a parseable RIFF/WAV
// container. It is non-fatal: ExtractPCMFromWAV returns the input unchanged
// alongside it so the pipeline can degrade gracefully instead of aborting.
var ErrMalformedContainer = errors.New("malformed WAV container")

const riffHeaderSize = 12

// ExtractPCMFromWAV locates the data subchunk of a RIFF/WAV container and
// returns the raw PCM region. Chunk headers (4-byte id + little-endian
// 32-bit size) are scanned starting after the 12-byte RIFF header. If the
// RIFF magic is absent or no data chunk is found, the input is returned
// unchanged together with ErrMalformedContainer.
func ExtractPCMFromWAV(wav []byte) ([]byte, error) {
	if len(wav) < riffHeaderSize ||
		!bytes.Equal(wav[0:4], []byte("RIFF")) ||
		!bytes.Equal(wav[8:12], []byte("WAVE")) {
		return wav, ErrMalformedContainer
	}

	off := riffHeaderSize
	for off+8 <= len(wav) {
		id := wav[off : off+4]
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))

		if bytes.Equal(id, []byte("data")) {
			start := off + 8
			end := start + size
			if end > len(wav) {
				// Truncated data chunk: take what is actually present.
				end = len(wav)
			}
			return wav[start:end], nil
		}

		// RIFF chunks are word aligned; odd sizes carry a pad byte.
		off += 8 + size + (size & 1)
	}

	return wav, ErrMalformedContainer
}
