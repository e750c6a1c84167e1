package econ

import (
	"context"
	"fmt"
	"math"

	"github.com/danmuck/gclink/internal/coordinator"
	"github.com/danmuck/gclink/internal/correlate"
	"github.com/danmuck/gclink/internal/protocol/record"
	"github.com/danmuck/gclink/internal/protocol/schema"
)

// RecipeFailed is the recipe value of a craft response that produced nothing.
const RecipeFailed int16 = -1

// MaxCraftItems is the most item ids a craft record can carry.
const MaxCraftItems = math.MaxUint16

func EncodeCraft(recipe int16, items []uint64) ([]byte, error) {
	if len(items) > MaxCraftItems {
		return nil, fmt.Errorf("%w: items=%d", ErrCraftTooLarge, len(items))
	}
	w := record.NewWriter().I16(recipe).U16(uint16(len(items)))
	for _, id := range items {
		w.U64(id)
	}
	return w.Encode(), nil
}

// CraftResponse is the record answering a craft: the recipe used and the
// ids of the created items.
type CraftResponse struct {
	Recipe int16
	Items  []uint64
}

func DecodeCraftResponse(r *record.Reader) (CraftResponse, error) {
	var out CraftResponse
	out.Recipe = r.I16()
	_ = r.U32()
	n := int(r.U16())
	for i := 0; i < n && r.Err() == nil; i++ {
		out.Items = append(out.Items, r.U64())
	}
	if err := r.Err(); err != nil {
		return CraftResponse{}, fmt.Errorf("econ: craft response: %w", err)
	}
	return out, nil
}

func EncodeCraftResponse(c CraftResponse) ([]byte, error) {
	if len(c.Items) > MaxCraftItems {
		return nil, fmt.Errorf("%w: items=%d", ErrCraftTooLarge, len(c.Items))
	}
	w := record.NewWriter().I16(c.Recipe).U32(0).U16(uint16(len(c.Items)))
	for _, id := range c.Items {
		w.U64(id)
	}
	return w.Encode(), nil
}

// Craft consumes items with recipe and returns the ids of the created items.
// Craft responses name no request, so concurrent crafts are answered in the
// order they were sent.
func (e *Extension) Craft(ctx context.Context, recipe int16, items []uint64) ([]uint64, error) {
	s, err := e.session()
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmptyCraft
	}
	payload, err := EncodeCraft(recipe, items)
	if err != nil {
		return nil, err
	}
	msg, err := s.Request(ctx, coordinator.Call{
		Kind:    schema.KindCraft,
		Payload: payload,
		Reply:   schema.KindCraftResponse,
		Match:   correlate.Queued(nil),
	})
	if err != nil {
		return nil, err
	}
	resp, err := DecodeCraftResponse(msg.Record())
	if err != nil {
		return nil, err
	}
	if resp.Recipe == RecipeFailed {
		return nil, &RequestFailedError{Request: "craft", Code: int64(resp.Recipe)}
	}
	return resp.Items, nil
}
