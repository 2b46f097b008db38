package espnative

import (
	"bufio"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Frame indicator bytes. Plaintext frames start with 0x00; controllers
// configured for Noise encryption send 0x01 instead.
const (
	indicatorPlaintext = 0x00
	indicatorEncrypted = 0x01
)

// maxFrameSize bounds a single frame payload. ESPHome messages are tiny
// (a full entity list is a few KB); anything larger means a desynced or
// hostile stream.
const maxFrameSize = 1 << 16 // 64KB

// frame is one decoded protocol frame.
type frame struct {
	msgType uint64
	payload []byte
}

// writeFrame encodes and writes one plaintext frame.
// The caller serialises writers; this function does not lock.
func writeFrame(w *bufio.Writer, msgType uint64, payload []byte) error {
	var header []byte
	header = append(header, indicatorPlaintext)
	header = protowire.AppendVarint(header, uint64(len(payload)))
	header = protowire.AppendVarint(header, msgType)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return w.Flush()
}

// readFrame reads and decodes one frame from the stream.
//
// Returns ErrEncryptionRequired when the peer opens with the encrypted
// indicator, and ErrFrameTooLarge / ErrMalformedFrame for protocol
// violations. IO errors pass through for the caller's reconnect logic.
func readFrame(r *bufio.Reader) (frame, error) {
	indicator, err := r.ReadByte()
	if err != nil {
		return frame{}, err
	}
	switch indicator {
	case indicatorPlaintext:
	case indicatorEncrypted:
		return frame{}, ErrEncryptionRequired
	default:
		return frame{}, fmt.Errorf("%w: bad indicator 0x%02x", ErrMalformedFrame, indicator)
	}

	size, err := readVarint(r)
	if err != nil {
		return frame{}, fmt.Errorf("%w: reading size: %w", ErrMalformedFrame, err)
	}
	if size > maxFrameSize {
		return frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	msgType, err := readVarint(r)
	if err != nil {
		return frame{}, fmt.Errorf("%w: reading type: %w", ErrMalformedFrame, err)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frame{}, err
	}

	return frame{msgType: msgType, payload: payload}, nil
}

// readVarint reads a protobuf base-128 varint byte by byte.
const maxVarintBytes = 10

func readVarint(r *bufio.Reader) (uint64, error) {
	var value uint64
	var shift uint
	for i := 0; i < maxVarintBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, nil
		}
		shift += 7
	}
	return 0, fmt.Errorf("varint too long")
}
