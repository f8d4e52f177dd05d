package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func TestToBase64MatchesStdEncoding(t *testing.T) {
	sizes := []int{0, 1, 2, 3, 100, encodeBlockSize - 1, encodeBlockSize, encodeBlockSize + 1, 3 * encodeBlockSize}
	for _, size := range sizes {
		data := make([]byte, size)
		rand.New(rand.NewSource(int64(size))).Read(data)

		got := ToBase64(data)
		want := base64.StdEncoding.EncodeToString(data)
		if got != want {
			t.Errorf("size %d: block encoding diverged from standard encoding", size)
		}
	}
}

func TestBase64RoundTrip(t *testing.T) {
	// Large buffer exercises the multi-block path.
	data := make([]byte, 1_500_000)
	rand.New(rand.NewSource(42)).Read(data)

	decoded, err := FromBase64(ToBase64(data))
	if err != nil {
		t.Fatalf("FromBase64 failed: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Error("round trip did not reproduce the original bytes")
	}
}

func TestFromBase64Malformed(t *testing.T) {
	_, err := FromBase64("not!!valid##base64")
	if err == nil {
		t.Fatal("expected error for malformed input")
	}
	if !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestChunksReassembly(t *testing.T) {
	s := strings.Repeat("abcdefgh", 1000) // 8000 chars
	for _, n := range []int{1, 7, 500, 7999, 8000, 9000} {
		var parts []string
		for chunk := range Chunks(s, n) {
			parts = append(parts, chunk)
		}

		if joined := strings.Join(parts, ""); joined != s {
			t.Errorf("chunk size %d: concatenation does not reproduce input", n)
		}
		for i, part := range parts {
			if i < len(parts)-1 && len(part) != n {
				t.Errorf("chunk size %d: chunk %d has length %d, want %d", n, i, len(part), n)
			}
			if len(part) > n {
				t.Errorf("chunk size %d: chunk %d exceeds maximum", n, i)
			}
		}
	}
}

func TestChunksRestartable(t *testing.T) {
	seq := Chunks("hello world", 4)

	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}

	first, second := count(), count()
	if first != second {
		t.Errorf("re-iteration yielded %d chunks, first pass yielded %d", second, first)
	}
	if first != 3 {
		t.Errorf("expected 3 chunks, got %d", first)
	}
}

func TestChunksEmptyInput(t *testing.T) {
	for range Chunks("", 10) {
		t.Fatal("empty input must yield no chunks")
	}
}
