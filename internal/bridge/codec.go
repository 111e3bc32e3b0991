// ABOUTME: Length-prefixed framing over a raw byte stream.
// ABOUTME: Every frame is a 4-byte big-endian length header plus that many bytes.

package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const headerSize = 4

// ErrFrameTooLarge indicates a frame header declared a payload exceeding the
// configured buffer size.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ErrEmptyFrame indicates a frame header declared a zero-length payload.
var ErrEmptyFrame = errors.New("frame has zero length")

// WriteFrame writes one length-prefixed frame. The header is written together
// with the payload in a single Write so short writes cannot interleave with
// other frames on the same writer.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[:headerSize], uint32(len(payload)))
	copy(buf[headerSize:], payload)

	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

// ReadFrame reads one complete frame, enforcing maxSize on the declared
// payload length before allocating.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if int(length) > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
