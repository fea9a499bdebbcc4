// Package wire implements the federation runtime wire protocol codec.
//
// Every frame begins with a one-byte marker. Frame layouts, all multi-byte
// integers least-significant-byte-first regardless of host byte order:
//
//	Frame         Layout
//	-----         ------
//	FedID         marker(1) · federate_id(4)
//	Timestamp     marker(1) · time(8)
//	Message       marker(1) · port(2) · federate(2) · length(4) · payload(length)
//	TimedMessage  marker(1) · port(2) · federate(2) · length(4) · tag(8) · payload(length)
//	Resign        marker(1)
//
// The marker values are a static compatibility contract between federates and
// the RTI. They are never renegotiated; a peer speaking a different
// enumeration is simply incompatible.
//
// Times and tags are signed 64-bit nanosecond instants, transmitted as their
// two's-complement bit pattern.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Marker identifies the frame type carried by the byte that follows on the wire.
type Marker byte

// Wire protocol markers.
const (
	MarkerFedID        Marker = 1 // federate registration, client to RTI
	MarkerTimestamp    Marker = 2 // start-time negotiation, both directions
	MarkerMessage      Marker = 3 // untimed cross-federate message
	MarkerResign       Marker = 4 // federate leaving the federation
	MarkerTimedMessage Marker = 5 // cross-federate message with a logical tag
)

// String returns the protocol name of the marker.
func (m Marker) String() string {
	switch m {
	case MarkerFedID:
		return "FED_ID"
	case MarkerTimestamp:
		return "TIMESTAMP"
	case MarkerMessage:
		return "MESSAGE"
	case MarkerResign:
		return "RESIGN"
	case MarkerTimedMessage:
		return "TIMED_MESSAGE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(m))
	}
}

// Known reports whether m is part of the protocol enumeration.
func (m Marker) Known() bool {
	return m >= MarkerFedID && m <= MarkerTimedMessage
}

// Fixed field sizes.
const (
	// HeaderLen is the length of the port/federate/length header shared by
	// Message and TimedMessage frames, excluding the marker byte.
	HeaderLen = 8
	// TimeLen is the length of an encoded instant.
	TimeLen = 8
	// FedIDLen is the length of the federate id field in a FedID frame.
	FedIDLen = 4
)

// Header is the fixed header of Message and TimedMessage frames.
// The uint16 field types enforce the protocol's 16-bit port and federate id
// ranges at compile time; Length must equal the exact payload byte count.
type Header struct {
	Port     uint16
	Federate uint16
	Length   uint32
}

// EncodeHeader serializes h into the 8-byte wire form.
func EncodeHeader(h Header) []byte {
	b := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint16(b[0:2], h.Port)
	binary.LittleEndian.PutUint16(b[2:4], h.Federate)
	binary.LittleEndian.PutUint32(b[4:8], h.Length)
	return b
}

// DecodeHeader parses the 8-byte wire form of a message header.
// b must hold at least HeaderLen bytes.
func DecodeHeader(b []byte) Header {
	return Header{
		Port:     binary.LittleEndian.Uint16(b[0:2]),
		Federate: binary.LittleEndian.Uint16(b[2:4]),
		Length:   binary.LittleEndian.Uint32(b[4:8]),
	}
}

// EncodeFedID builds a complete FedID registration frame.
func EncodeFedID(id uint16) []byte {
	b := make([]byte, 1+FedIDLen)
	b[0] = byte(MarkerFedID)
	binary.LittleEndian.PutUint32(b[1:], uint32(id))
	return b
}

// EncodeTimestamp builds a complete Timestamp frame carrying t.
func EncodeTimestamp(t int64) []byte {
	b := make([]byte, 1+TimeLen)
	b[0] = byte(MarkerTimestamp)
	binary.LittleEndian.PutUint64(b[1:], uint64(t))
	return b
}

// EncodeResign builds a Resign frame.
func EncodeResign() []byte {
	return []byte{byte(MarkerResign)}
}

// EncodeMessage builds the marker-plus-header prefix of an untimed Message
// frame for the given payload. The payload itself is transmitted separately,
// right after the prefix.
//
// A payload longer than the 32-bit length field can describe is a caller
// contract breach and panics.
func EncodeMessage(port, federate uint16, payload []byte) []byte {
	checkLength(len(payload))
	b := make([]byte, 1+HeaderLen)
	b[0] = byte(MarkerMessage)
	binary.LittleEndian.PutUint16(b[1:3], port)
	binary.LittleEndian.PutUint16(b[3:5], federate)
	binary.LittleEndian.PutUint32(b[5:9], uint32(len(payload)))
	return b
}

// EncodeTimedMessage builds the marker-plus-header-plus-tag prefix of a
// TimedMessage frame. Like EncodeMessage, the payload follows separately.
func EncodeTimedMessage(port, federate uint16, tag int64, payload []byte) []byte {
	checkLength(len(payload))
	b := make([]byte, 1+HeaderLen+TimeLen)
	b[0] = byte(MarkerTimedMessage)
	binary.LittleEndian.PutUint16(b[1:3], port)
	binary.LittleEndian.PutUint16(b[3:5], federate)
	binary.LittleEndian.PutUint32(b[5:9], uint32(len(payload)))
	binary.LittleEndian.PutUint64(b[9:17], uint64(tag))
	return b
}

func checkLength(n int) {
	if uint64(n) > math.MaxUint32 {
		panic(fmt.Sprintf("wire: payload of %d bytes exceeds the 32-bit length field", n))
	}
}

// ReadMarker reads the next frame's marker byte.
func ReadMarker(r io.Reader) (Marker, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return Marker(b[0]), nil
}

// ReadHeader reads the 8-byte message header that follows a Message or
// TimedMessage marker.
func ReadHeader(r io.Reader) (Header, error) {
	var b [HeaderLen]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Header{}, fmt.Errorf("wire: reading message header: %w", err)
	}
	return DecodeHeader(b[:]), nil
}

// ReadTime reads an 8-byte instant.
func ReadTime(r io.Reader) (int64, error) {
	var b [TimeLen]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("wire: reading time field: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// ReadFedID reads the 4-byte federate id that follows a FedID marker.
func ReadFedID(r io.Reader) (uint16, error) {
	var b [FedIDLen]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("wire: reading federate id: %w", err)
	}
	return uint16(binary.LittleEndian.Uint32(b[:])), nil
}

// ReadPayload reads exactly length payload bytes into a fresh buffer.
func ReadPayload(r io.Reader, length uint32) ([]byte, error) {
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: reading %d payload bytes: %w", length, err)
	}
	return payload, nil
}
