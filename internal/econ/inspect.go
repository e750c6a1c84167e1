package econ

import (
	"context"
	"math"

	"github.com/danmuck/gclink/internal/coordinator"
	"github.com/danmuck/gclink/internal/protocol"
	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/danmuck/gclink/internal/protocol/wire"
)

// InspectResult describes an item returned by an inspect request.
type InspectResult struct {
	ItemID   uint64
	DefIndex uint32
	Paint    uint32
	Wear     float32
	Seed     uint32
	Quality  uint32
}

// InspectParams are the four numbers of an inspect link. Exactly one of
// Owner and Market is set.
type InspectParams struct {
	Owner  uint64
	Asset  uint64
	D      uint64
	Market uint64
}

func EncodeInspect(p InspectParams) []byte {
	return wire.NewBuilder().
		Uint64(schema.FieldInspectParamS, p.Owner).
		Uint64(schema.FieldInspectParamA, p.Asset).
		Uint64(schema.FieldInspectParamD, p.D).
		Uint64(schema.FieldInspectParamM, p.Market).
		Encode()
}

func DecodeInspectResponse(fields wire.Fields) (InspectResult, error) {
	item, err := fields.Message(schema.FieldInspectItem)
	if err != nil {
		return InspectResult{}, err
	}
	var out InspectResult
	if out.ItemID, err = item.Uint64(schema.FieldInspectItemID); err != nil {
		return InspectResult{}, err
	}
	if out.DefIndex, err = item.Uint32(schema.FieldInspectDef); err != nil {
		return InspectResult{}, err
	}
	if out.Paint, err = item.Uint32(schema.FieldInspectPaint); err != nil {
		return InspectResult{}, err
	}
	wear, err := item.Uint32(schema.FieldInspectWear)
	if err != nil {
		return InspectResult{}, err
	}
	out.Wear = math.Float32frombits(wear)
	if out.Seed, err = item.Uint32(schema.FieldInspectSeed); err != nil {
		return InspectResult{}, err
	}
	if out.Quality, err = item.Uint32(schema.FieldInspectQuality); err != nil {
		return InspectResult{}, err
	}
	return out, nil
}

func EncodeInspectResponse(r InspectResult) []byte {
	item := wire.NewBuilder().
		Uint64(schema.FieldInspectItemID, r.ItemID).
		Uint32(schema.FieldInspectDef, r.DefIndex).
		Uint32(schema.FieldInspectPaint, r.Paint).
		Fixed32(schema.FieldInspectWear, math.Float32bits(r.Wear)).
		Uint32(schema.FieldInspectSeed, r.Seed).
		Uint32(schema.FieldInspectQuality, r.Quality)
	return wire.NewBuilder().Message(schema.FieldInspectItem, item).Encode()
}

// Inspect asks the server to describe the item named by p. The response is
// matched on the asset id.
func (e *Extension) Inspect(ctx context.Context, p InspectParams) (InspectResult, error) {
	s, err := e.session()
	if err != nil {
		return InspectResult{}, err
	}
	msg, err := s.Request(ctx, coordinator.Call{
		Kind:    schema.KindInspect,
		Payload: EncodeInspect(p),
		Reply:   schema.KindInspectResponse,
		Match: func(m *protocol.Message) bool {
			r, err := DecodeInspectResponse(m.Fields)
			return err == nil && r.ItemID == p.Asset
		},
	})
	if err != nil {
		return InspectResult{}, err
	}
	return DecodeInspectResponse(msg.Fields)
}
