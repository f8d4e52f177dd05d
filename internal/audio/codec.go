// Package audio provides binary transcoding utilities for the avatar
// pipeline: base64 conversion, WAV container handling and payload chunking.
// All functions are pure and stateless.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrDecode reports a malformed base64 payload.
var ErrDecode = errors.New("malformed base64 audio payload")

// encodeBlockSize is the number of raw bytes encoded per block. It must be
// a multiple of 3 so that concatenated blocks form one valid base64 stream
// with padding only at the very end.
const encodeBlockSize = 48 * 1024

// ToBase64 encodes raw bytes as standard base64, processing the input in
// bounded-size blocks so arbitrarily large buffers never materialize an
// oversized intermediate.
func ToBase64(data []byte) string {
	if len(data) <= encodeBlockSize {
		return base64.StdEncoding.EncodeToString(data)
	}

	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(data)))
	for off := 0; off < len(data); off += encodeBlockSize {
		end := off + encodeBlockSize
		if end > len(data) {
			end = len(data)
		}
		sb.WriteString(base64.StdEncoding.EncodeToString(data[off:end]))
	}
	return sb.String()
}

// FromBase64 decodes a standard base64 string back to raw bytes.
func FromBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return data, nil
}

// Chunks splits s into ordered, non-overlapping substrings of at most
// maxChars characters. The returned sequence is pure over its input and
// safe to re-iterate. maxChars must be positive; a non-positive value
// yields the whole string as a single chunk.
func Chunks(s string, maxChars int) iter.Seq[string] {
	return func(yield func(string) bool) {
		if maxChars <= 0 {
			if s != "" {
				yield(s)
			}
			return
		}
		for off := 0; off < len(s); off += maxChars {
			end := off + maxChars
			if end > len(s) {
				end = len(s)
			}
			if !yield(s[off:end]) {
				return
			}
		}
	}
}
