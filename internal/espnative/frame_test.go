package espnative

import (
	"bufio"
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		msgType uint64
		payload []byte
	}{
		{"empty payload", msgPingRequest, nil},
		{"small payload", msgHelloRequest, []byte{0x0a, 0x03, 'a', 'b', 'c'}},
		{"type above 127 needs two varint bytes", msgButtonCommandRequest + 100, bytes.Repeat([]byte{0xff}, 300)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := bufio.NewWriter(&buf)
			if err := writeFrame(w, tt.msgType, tt.payload); err != nil {
				t.Fatalf("writeFrame() error: %v", err)
			}

			f, err := readFrame(bufio.NewReader(&buf))
			if err != nil {
				t.Fatalf("readFrame() error: %v", err)
			}
			if f.msgType != tt.msgType {
				t.Errorf("msgType = %d, want %d", f.msgType, tt.msgType)
			}
			if !bytes.Equal(f.payload, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(f.payload), len(tt.payload))
			}
		})
	}
}

func TestReadFrameEncryptedIndicator(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{indicatorEncrypted, 0x00, 0x00}))
	_, err := readFrame(r)
	if !errors.Is(err, ErrEncryptionRequired) {
		t.Errorf("expected ErrEncryptionRequired, got %v", err)
	}
}

func TestReadFrameBadIndicator(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{0x42, 0x00, 0x00}))
	_, err := readFrame(r)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestReadFrameOversized(t *testing.T) {
	// size varint claims 1MB
	payload := []byte{indicatorPlaintext, 0x80, 0x80, 0x40, 0x01}
	r := bufio.NewReader(bytes.NewReader(payload))
	_, err := readFrame(r)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}
