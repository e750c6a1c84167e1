package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/gclink/internal/protocol/schema"
)

var ErrEmptyPayload = errors.New("protocol: empty payload")

// DecodeError reports a malformed frame. The frame is dropped and the session continues.
type DecodeError struct {
	Kind  schema.Kind
	Tag   uint32
	AppID uint32
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode app=%d tag=%d kind=%s: %v", e.AppID, e.Tag, e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
