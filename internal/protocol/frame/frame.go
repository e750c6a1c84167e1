package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic          uint32 = 0x47434c4b // "GCLK"
	Version        uint16 = 1
	FixedHeaderLen uint16 = 24

	// ProtoMask marks a kind whose payload is schema-driven (field-tagged).
	ProtoMask uint32 = 0x80000000

	FlagIsResponse uint32 = 0x01
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrInvalidMagic       = errors.New("frame: invalid magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrHeaderLenMismatch  = errors.New("frame: header_len mismatch")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrShortPayload       = errors.New("frame: short payload")
	ErrTrailingBytes      = errors.New("frame: trailing bytes after payload")
)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	AppID      uint32
	Kind       uint32
	Flags      uint32
	PayloadLen uint32
}

// Envelope is one coordinator message as carried by the outer session.
type Envelope struct {
	AppID   uint32
	Kind    uint32
	Flags   uint32
	Payload []byte
}

// IsProto reports whether the payload is schema-driven rather than a record.
func (e Envelope) IsProto() bool {
	return e.Kind&ProtoMask != 0
}

// Tag returns the kind with the encoding bit stripped.
func (e Envelope) Tag() uint32 {
	return e.Kind &^ ProtoMask
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 4 * 1024 * 1024,
	}
}

func ReadFrame(r io.Reader, limits Limits) (Envelope, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Envelope{}, ErrShortHeader
		}
		return Envelope{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Envelope{}, err
	}
	if err := checkHeader(h, limits); err != nil {
		return Envelope{}, err
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Envelope{}, ErrShortPayload
		}
	}
	return Envelope{AppID: h.AppID, Kind: h.Kind, Flags: h.Flags, Payload: payload}, nil
}

func WriteFrame(w io.Writer, env Envelope, limits Limits) error {
	if uint64(len(env.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	h := Header{
		Magic:      Magic,
		Version:    Version,
		HeaderLen:  FixedHeaderLen,
		AppID:      env.AppID,
		Kind:       env.Kind,
		Flags:      env.Flags,
		PayloadLen: uint32(len(env.Payload)),
	}
	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if len(env.Payload) > 0 {
		if _, err := w.Write(env.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Marshal encodes env into a single buffer for message-oriented transports.
func Marshal(env Envelope, limits Limits) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(FixedHeaderLen) + len(env.Payload))
	if err := WriteFrame(&buf, env, limits); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes exactly one envelope from b.
func Unmarshal(b []byte, limits Limits) (Envelope, error) {
	if len(b) < int(FixedHeaderLen) {
		return Envelope{}, ErrShortHeader
	}
	r := bytes.NewReader(b)
	env, err := ReadFrame(r, limits)
	if err != nil {
		return Envelope{}, err
	}
	if r.Len() != 0 {
		return Envelope{}, ErrTrailingBytes
	}
	return env, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint32(buf[8:12], h.AppID)
	binary.BigEndian.PutUint32(buf[12:16], h.Kind)
	binary.BigEndian.PutUint32(buf[16:20], h.Flags)
	binary.BigEndian.PutUint32(buf[20:24], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		AppID:      binary.BigEndian.Uint32(b[8:12]),
		Kind:       binary.BigEndian.Uint32(b[12:16]),
		Flags:      binary.BigEndian.Uint32(b[16:20]),
		PayloadLen: binary.BigEndian.Uint32(b[20:24]),
	}, nil
}

func checkHeader(h Header, limits Limits) error {
	if h.Magic != Magic {
		return ErrInvalidMagic
	}
	if h.Version != Version {
		return ErrUnsupportedVersion
	}
	if h.HeaderLen != FixedHeaderLen {
		return ErrHeaderLenMismatch
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}
