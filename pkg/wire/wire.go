// Package wire frames the mesh's messages: each message is the
// decimal ASCII encoding of the sender's post-increment logical
// clock, prefixed by a varint payload length. Framing guarantees one
// decode per send even under partial reads or coalesced writes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxPayloadSize bounds a frame's payload; a decimal uint64 never
// exceeds 20 bytes.
const MaxPayloadSize = 20

var (
	ErrPayloadTooLarge  = errors.New("wire: payload exceeds maximum size")
	ErrMalformedPrefix  = errors.New("wire: malformed length prefix")
	ErrMalformedPayload = errors.New("wire: payload is not a decimal clock value")
)

// Encode writes value as a single length-prefixed frame. The frame is
// emitted in one Write call.
func Encode(w io.Writer, value uint64) error {
	payload := strconv.AppendUint(nil, value, 10)
	buf := protowire.AppendVarint(nil, uint64(len(payload)))
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// Decode reads exactly one frame from r and parses its payload. It
// returns io.EOF only when the stream ends cleanly before a frame
// starts; an EOF mid-frame surfaces as io.ErrUnexpectedEOF.
func Decode(r io.Reader) (uint64, error) {
	prefix := make([]byte, 0, binary.MaxVarintLen64)
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			if len(prefix) > 0 && errors.Is(err, io.EOF) {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		prefix = append(prefix, b[0])
		if b[0] < 0x80 {
			break
		}
		if len(prefix) == binary.MaxVarintLen64 {
			return 0, ErrMalformedPrefix
		}
	}

	size, consumed := protowire.ConsumeVarint(prefix)
	if consumed < 0 {
		return 0, ErrMalformedPrefix
	}
	if size == 0 {
		return 0, fmt.Errorf("%w: empty frame", ErrMalformedPayload)
	}
	if size > MaxPayloadSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, err
	}

	value, err := strconv.ParseUint(string(payload), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPayload, payload)
	}
	return value, nil
}
