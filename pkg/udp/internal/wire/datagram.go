// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	sha256 "github.com/minio/sha256-simd"
)

// A datagram is laid out as follows, all integers in network byte order:
//
//     0       3       4       6       8
//   +-------+-------+-------+-------+----------- ... ----------+---------------------+
//   | magic |version| count |length |  length bytes of frames  | SHA-256 (32 bytes)  |
//   +-------+-------+-------+-------+----------- ... ----------+---------------------+
//
// The checksum covers the header and all frames.

const (
	// HeaderSize of each datagram.
	HeaderSize = 8

	// FooterSize of each datagram, the SHA-256 checksum.
	FooterSize = sha256.Size

	// MaxTransportSize is the default upper bound of a datagram.
	MaxTransportSize = 8192

	// ChunkReserve is subtracted from the maximum transport size for each chunk's packet overhead.
	ChunkReserve = 256

	version byte = 1
)

var magic = [3]byte{'C', 'R', 'R'}

var (
	// ErrChecksumMismatch signals a corrupted or forged datagram.
	ErrChecksumMismatch = errors.New("datagram checksum mismatch")

	// ErrMalformedDatagram signals a datagram which cannot be a courier datagram.
	ErrMalformedDatagram = errors.New("malformed datagram")

	// ErrFrameTooLarge is returned for a frame which would not fit into an empty datagram.
	ErrFrameTooLarge = errors.New("frame exceeds maximum transport size")
)

// MaxFrameSize returns the largest single frame fitting into a datagram of the given size.
func MaxFrameSize(maxTransportSize int) int {
	return maxTransportSize - HeaderSize - FooterSize
}

// ChunkSize returns the payload size of each chunk for the given maximum transport size.
func ChunkSize(maxTransportSize int) int {
	return maxTransportSize - ChunkReserve
}

// DatagramWriter packs serialized frames into a datagram buffer.
type DatagramWriter struct {
	buf    []byte
	count  int
	length int
}

// NewDatagramWriter writes into buf, whose length is the maximum transport size.
func NewDatagramWriter(buf []byte) *DatagramWriter {
	if len(buf) < HeaderSize+FooterSize {
		panic("wire: datagram buffer too small")
	}
	return &DatagramWriter{buf: buf}
}

// Fits checks if a frame of n bytes could still be appended.
func (dw *DatagramWriter) Fits(n int) bool {
	return HeaderSize+dw.length+n+FooterSize <= len(dw.buf) && dw.count < 0xFFFF
}

// Append a serialized frame. False is returned if the frame does not fit anymore.
func (dw *DatagramWriter) Append(frame []byte) bool {
	if !dw.Fits(len(frame)) {
		return false
	}

	copy(dw.buf[HeaderSize+dw.length:], frame)
	dw.length += len(frame)
	dw.count++
	return true
}

// Count of the appended frames.
func (dw *DatagramWriter) Count() int {
	return dw.count
}

// Empty checks if no frame was appended yet.
func (dw *DatagramWriter) Empty() bool {
	return dw.count == 0
}

// Finish writes header and checksum and returns the datagram's total length.
func (dw *DatagramWriter) Finish() int {
	copy(dw.buf[0:3], magic[:])
	dw.buf[3] = version
	binary.BigEndian.PutUint16(dw.buf[4:6], uint16(dw.count))
	binary.BigEndian.PutUint16(dw.buf[6:8], uint16(dw.length))

	end := HeaderSize + dw.length
	sum := sha256.Sum256(dw.buf[:end])
	copy(dw.buf[end:], sum[:])

	return end + FooterSize
}

// Reset the DatagramWriter for the next datagram in the same buffer.
func (dw *DatagramWriter) Reset() {
	dw.count = 0
	dw.length = 0
}

// EncodeDatagram serializes frames into a new datagram. All frames must fit into maxTransportSize bytes.
func EncodeDatagram(frames []Frame, maxTransportSize int) ([]byte, error) {
	dw := NewDatagramWriter(make([]byte, maxTransportSize))

	for _, f := range frames {
		data, err := EncodeFrame(f)
		if err != nil {
			return nil, err
		}
		if !dw.Append(data) {
			return nil, fmt.Errorf("%w: %v frame of %d bytes", ErrFrameTooLarge, f.FrameType(), len(data))
		}
	}

	n := dw.Finish()
	return dw.buf[:n], nil
}

// VerifyDatagram checks the datagram's checksum and header. The frame section is returned.
func VerifyDatagram(datagram []byte) (frames []byte, count int, err error) {
	if len(datagram) < HeaderSize+FooterSize {
		err = fmt.Errorf("%w: %d bytes are too short", ErrMalformedDatagram, len(datagram))
		return
	}

	end := len(datagram) - FooterSize
	sum := sha256.Sum256(datagram[:end])
	if !bytes.Equal(sum[:], datagram[end:]) {
		err = ErrChecksumMismatch
		return
	}

	if !bytes.Equal(datagram[0:3], magic[:]) || datagram[3] != version {
		err = fmt.Errorf("%w: unknown magic or version %x", ErrMalformedDatagram, datagram[0:4])
		return
	}

	count = int(binary.BigEndian.Uint16(datagram[4:6]))
	length := int(binary.BigEndian.Uint16(datagram[6:8]))
	if HeaderSize+length != end {
		err = fmt.Errorf("%w: declared length %d mismatches %d", ErrMalformedDatagram, length, end-HeaderSize)
		return
	}

	frames = datagram[HeaderSize:end]
	return
}

// DecodeDatagram verifies a datagram and deserializes all of its frames. Any error invalidates the whole datagram.
func DecodeDatagram(datagram []byte) ([]Frame, error) {
	data, count, err := VerifyDatagram(datagram)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(data)
	frames := make([]Frame, 0, count)
	for r.Len() > 0 {
		f, fErr := UnmarshalFrame(r)
		if fErr != nil {
			return nil, fmt.Errorf("decoding frame %d failed: %w", len(frames), fErr)
		}
		frames = append(frames, f)
	}

	if len(frames) != count {
		return nil, fmt.Errorf("%w: decoded %d frames, header declared %d", ErrMalformedDatagram, len(frames), count)
	}
	return frames, nil
}
