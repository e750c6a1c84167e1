package protocol

import (
	"sync/atomic"

	"github.com/danmuck/gclink/internal/protocol/frame"
	"github.com/danmuck/gclink/internal/protocol/record"
	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/danmuck/gclink/internal/protocol/wire"
)

// Message is one classified inbound frame.
type Message struct {
	Kind     schema.Kind
	Envelope frame.Envelope
	// Fields is nil for record payloads.
	Fields wire.Fields

	claimed atomic.Bool
}

// Claim marks the message as consumed and reports whether this call did so.
// Kinds answered by one shared signal for a FIFO queue of requests use it so
// that a single response resolves a single request.
func (m *Message) Claim() bool {
	return m.claimed.CompareAndSwap(false, true)
}

func (m *Message) Claimed() bool {
	return m.claimed.Load()
}

// Record returns a reader over a structured record payload.
func (m *Message) Record() *record.Reader {
	return record.NewReader(m.Envelope.Payload)
}

// Decode classifies env with table, decodes schema-driven payloads and checks
// required fields. Every failure is a *DecodeError.
func Decode(table schema.Table, env frame.Envelope) (*Message, error) {
	kind, err := table.Classify(env)
	if err != nil {
		return nil, &DecodeError{Kind: kind, Tag: env.Tag(), AppID: env.AppID, Err: err}
	}
	msg := &Message{Kind: kind, Envelope: env}
	if table.IsRecord(kind) {
		return msg, nil
	}
	fields, err := wire.Decode(env.Payload)
	if err != nil {
		return nil, &DecodeError{Kind: kind, Tag: env.Tag(), AppID: env.AppID, Err: err}
	}
	if err := schema.Validate(kind, fields); err != nil {
		return nil, &DecodeError{Kind: kind, Tag: env.Tag(), AppID: env.AppID, Err: err}
	}
	msg.Fields = fields
	return msg, nil
}

// NewMessage builds an already-classified message, mainly for tests and
// synthesized deliveries.
func NewMessage(kind schema.Kind, env frame.Envelope, fields wire.Fields) *Message {
	return &Message{Kind: kind, Envelope: env, Fields: fields}
}
