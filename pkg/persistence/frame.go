// Package persistence implements the append-only log and its binary frame
// format. Every graph mutation is written as one frame before the in-memory
// store is touched; replaying the log in order reproduces the store.
package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

const (
	// MagicByte marks the start of a valid frame. Recovery scans for it when
	// the log tail is damaged.
	MagicByte = 0xA7

	// HeaderSize is the fixed frame metadata:
	// 1 byte (Magic) + 1 byte (OpCode) + 4 bytes (Length) + 4 bytes (CRC32).
	HeaderSize = 10
)

// Operation codes carried in the frame header. The payload layout of each
// op is defined by the matching record type in record.go.
const (
	OpAddNode     = 0x01
	OpAddEdge     = 0x02
	OpRemoveNode  = 0x03
	OpRemoveEdge  = 0x04
	OpSetStrength = 0x05
	OpTouchEdge   = 0x06
)

var (
	// ErrInvalidMagic indicates the stream lost synchronization or the file
	// is not an activation log.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates corruption inside the frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the file ended mid-frame, typically a
	// torn write from a crash.
	ErrIncompleteFrame = errors.New("incomplete frame")
)

// FrameWriter encodes op/payload pairs into binary frames on an io.Writer.
type FrameWriter struct {
	w io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes one frame: [Magic(1)][OpCode(1)][Length(4)][CRC(4)][Payload(N)].
// Wrap the underlying writer in a bufio.Writer so header and payload reach
// the file in a single write.
func (fw *FrameWriter) WriteFrame(op byte, payload []byte) error {
	header := make([]byte, HeaderSize)
	header[0] = MagicByte
	header[1] = op
	binary.LittleEndian.PutUint32(header[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[6:10], crc32.ChecksumIEEE(payload))

	if _, err := fw.w.Write(header); err != nil {
		return err
	}
	_, err := fw.w.Write(payload)
	return err
}

// ReadFrame reads and validates the next frame. It returns the op code, the
// payload and the total bytes consumed. A clean EOF at a frame boundary is
// reported as io.EOF; a partial header or payload as ErrIncompleteFrame.
func ReadFrame(r io.Reader) (byte, []byte, int, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return 0, nil, 0, io.EOF
		}
		return 0, nil, 0, ErrIncompleteFrame
	}

	if header[0] != MagicByte {
		return 0, nil, HeaderSize, ErrInvalidMagic
	}

	op := header[1]
	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return op, nil, HeaderSize, ErrIncompleteFrame
	}

	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return op, nil, HeaderSize + int(length), ErrChecksumMismatch
	}
	return op, payload, HeaderSize + int(length), nil
}
