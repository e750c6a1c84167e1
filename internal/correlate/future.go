package correlate

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/gclink/internal/protocol"
	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/oklog/ulid/v2"
)

// Future resolves at most once, with a message or an error.
type Future struct {
	id    ulid.ULID
	kind  schema.Kind
	pred  Predicate
	timer *time.Timer
	c     *Correlator

	once sync.Once
	done chan struct{}
	msg  *protocol.Message
	err  error
}

func (f *Future) ID() string {
	return f.id.String()
}

func (f *Future) Kind() schema.Kind {
	return f.kind
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx ends. A ctx that ends first
// leaves the waiter registered; call Cancel to drop it.
func (f *Future) Wait(ctx context.Context) (*protocol.Message, error) {
	select {
	case <-f.done:
		return f.msg, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel removes a still-pending waiter and resolves it with ErrCanceled.
func (f *Future) Cancel() {
	if f.c.remove(f) {
		f.c.finish(f, nil, ErrCanceled, OutcomeCanceled)
	}
}

func (f *Future) resolve(msg *protocol.Message, err error) bool {
	resolved := false
	f.once.Do(func() {
		if f.timer != nil {
			f.timer.Stop()
		}
		f.msg = msg
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}
