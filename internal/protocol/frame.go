package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Delimiter terminates every frame on the wire.
const Delimiter = '\n'

// DefaultMaxFrameSize bounds a single frame when no explicit limit is given.
const DefaultMaxFrameSize = 1 << 20

var (
	ErrNoMessage     = errors.New("no message")
	ErrDecode        = errors.New("decode failure")
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// Reader reads delimiter-terminated frames from a stream.
type Reader struct {
	br      *bufio.Reader
	maxSize int
}

// NewReader wraps r. A non-positive maxSize selects DefaultMaxFrameSize.
func NewReader(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	return &Reader{
		br:      bufio.NewReader(r),
		maxSize: maxSize,
	}
}

// ReadFrame returns the next frame payload without its delimiter.
// Any stream error before the delimiter, including a deadline, is reported
// as ErrNoMessage wrapping the cause.
func (r *Reader) ReadFrame() ([]byte, error) {
	var frame []byte

	for {
		chunk, err := r.br.ReadSlice(Delimiter)
		if len(frame)+len(chunk) > r.maxSize+1 {
			return nil, ErrFrameTooLarge
		}
		frame = append(frame, chunk...)

		switch {
		case err == nil:
			return frame[:len(frame)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, fmt.Errorf("%w: %w", ErrNoMessage, err)
		}
	}
}

// ReadMessage reads one frame and decodes it into v.
func (r *Reader) ReadMessage(v any) error {
	frame, err := r.ReadFrame()
	if err != nil {
		return err
	}

	return Decode(frame, v)
}

// Decode parses a frame payload into v.
func Decode(frame []byte, v any) error {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 || frame[0] != '{' {
		return fmt.Errorf("%w: payload is not an object", ErrDecode)
	}

	if err := json.Unmarshal(frame, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return nil
}

// Encode serializes v as one frame including the trailing delimiter.
func Encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return append(payload, Delimiter), nil
}

// WriteMessage writes v to w as a single frame.
func WriteMessage(w io.Writer, v any) error {
	frame, err := Encode(v)
	if err != nil {
		return err
	}

	_, err = w.Write(frame)
	return err
}
