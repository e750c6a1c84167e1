package session

import (
	"fmt"

	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/danmuck/gclink/internal/protocol/wire"
)

// StatusHaveSession is the connection status meaning the coordinator session is live.
const StatusHaveSession uint32 = 0

type Hello struct {
	Version uint32
}

// Welcome answers hello. Caches carries out-of-date caches the server resends
// in full as part of the handshake.
type Welcome struct {
	Version  uint32
	Location string
	Caches   []CacheSubscribed
}

type ConnectionStatus struct {
	Status uint32
}

type Goodbye struct {
	Reason uint32
}

// ObjectBlock is one shared object of a given type, still encoded.
type ObjectBlock struct {
	TypeID uint32
	Data   []byte
}

type SingleObject struct {
	Owner   uint64
	Version uint64
	Object  ObjectBlock
}

type MultipleObjects struct {
	Owner    uint64
	Version  uint64
	Modified []ObjectBlock
	Added    []ObjectBlock
	Removed  []ObjectBlock
}

// CacheSubscribed is a full resync of one owner's cache. Total is the
// server-side object count when reported, zero otherwise.
type CacheSubscribed struct {
	Owner   uint64
	Version uint64
	Total   uint32
	Objects []ObjectBlock
}

func EncodeHello(h Hello) []byte {
	return wire.NewBuilder().Uint32(schema.FieldHelloVersion, h.Version).Encode()
}

func DecodeHello(fields wire.Fields) (Hello, error) {
	v, err := fields.Uint32(schema.FieldHelloVersion)
	return Hello{Version: v}, err
}

func EncodeWelcome(w Welcome) []byte {
	b := wire.NewBuilder().Uint32(schema.FieldWelcomeVersion, w.Version)
	for _, c := range w.Caches {
		b.Bytes(schema.FieldWelcomeCaches, EncodeCacheSubscribed(c))
	}
	if w.Location != "" {
		b.String(schema.FieldWelcomeLocation, w.Location)
	}
	return b.Encode()
}

func DecodeWelcome(fields wire.Fields) (Welcome, error) {
	var w Welcome
	var err error
	if w.Version, err = fields.Uint32(schema.FieldWelcomeVersion); err != nil {
		return Welcome{}, err
	}
	if w.Location, err = fields.String(schema.FieldWelcomeLocation); err != nil {
		return Welcome{}, err
	}
	caches, err := fields.Messages(schema.FieldWelcomeCaches)
	if err != nil {
		return Welcome{}, err
	}
	for _, c := range caches {
		sub, err := DecodeCacheSubscribed(c)
		if err != nil {
			return Welcome{}, err
		}
		w.Caches = append(w.Caches, sub)
	}
	return w, nil
}

func EncodeConnectionStatus(s ConnectionStatus) []byte {
	return wire.NewBuilder().Uint32(schema.FieldStatusCode, s.Status).Encode()
}

func DecodeConnectionStatus(fields wire.Fields) (ConnectionStatus, error) {
	v, err := fields.Uint32(schema.FieldStatusCode)
	return ConnectionStatus{Status: v}, err
}

func EncodeGoodbye(g Goodbye) []byte {
	return wire.NewBuilder().Uint32(schema.FieldGoodbyeReason, g.Reason).Encode()
}

func DecodeGoodbye(fields wire.Fields) (Goodbye, error) {
	v, err := fields.Uint32(schema.FieldGoodbyeReason)
	return Goodbye{Reason: v}, err
}

func EncodeSingleObject(o SingleObject) []byte {
	b := wire.NewBuilder().
		Uint32(schema.FieldSingleTypeID, o.Object.TypeID).
		Bytes(schema.FieldSingleData, o.Object.Data)
	if o.Version != 0 {
		b.Uint64(schema.FieldSingleVersion, o.Version)
	}
	if o.Owner != 0 {
		b.Fixed64(schema.FieldSingleOwner, o.Owner)
	}
	return b.Encode()
}

func DecodeSingleObject(fields wire.Fields) (SingleObject, error) {
	block, err := decodeBlock(fields)
	if err != nil {
		return SingleObject{}, err
	}
	version, err := fields.Uint64(schema.FieldSingleVersion)
	if err != nil {
		return SingleObject{}, err
	}
	owner, err := fields.Uint64(schema.FieldSingleOwner)
	if err != nil {
		return SingleObject{}, err
	}
	return SingleObject{Owner: owner, Version: version, Object: block}, nil
}

func EncodeMultipleObjects(m MultipleObjects) []byte {
	b := wire.NewBuilder()
	for _, o := range m.Modified {
		b.Bytes(schema.FieldMultiModified, encodeBlock(o))
	}
	if m.Version != 0 {
		b.Uint64(schema.FieldMultiVersion, m.Version)
	}
	for _, o := range m.Added {
		b.Bytes(schema.FieldMultiAdded, encodeBlock(o))
	}
	for _, o := range m.Removed {
		b.Bytes(schema.FieldMultiRemoved, encodeBlock(o))
	}
	if m.Owner != 0 {
		b.Fixed64(schema.FieldMultiOwner, m.Owner)
	}
	return b.Encode()
}

func DecodeMultipleObjects(fields wire.Fields) (MultipleObjects, error) {
	var m MultipleObjects
	var err error
	if m.Modified, err = decodeBlocks(fields, schema.FieldMultiModified); err != nil {
		return MultipleObjects{}, err
	}
	if m.Added, err = decodeBlocks(fields, schema.FieldMultiAdded); err != nil {
		return MultipleObjects{}, err
	}
	if m.Removed, err = decodeBlocks(fields, schema.FieldMultiRemoved); err != nil {
		return MultipleObjects{}, err
	}
	if m.Version, err = fields.Uint64(schema.FieldMultiVersion); err != nil {
		return MultipleObjects{}, err
	}
	if m.Owner, err = fields.Uint64(schema.FieldMultiOwner); err != nil {
		return MultipleObjects{}, err
	}
	return m, nil
}

func EncodeCacheSubscribed(c CacheSubscribed) []byte {
	byType := make(map[uint32]*wire.Builder)
	order := make([]uint32, 0, 2)
	for _, o := range c.Objects {
		tb, ok := byType[o.TypeID]
		if !ok {
			tb = wire.NewBuilder().Uint32(schema.FieldTypeBlockTypeID, o.TypeID)
			byType[o.TypeID] = tb
			order = append(order, o.TypeID)
		}
		tb.Bytes(schema.FieldTypeBlockData, o.Data)
	}
	b := wire.NewBuilder()
	for _, typeID := range order {
		b.Message(schema.FieldSubscribedObjects, byType[typeID])
	}
	if c.Version != 0 {
		b.Uint64(schema.FieldSubscribedVersion, c.Version)
	}
	if c.Owner != 0 {
		b.Fixed64(schema.FieldSubscribedOwner, c.Owner)
	}
	if c.Total != 0 {
		b.Uint32(schema.FieldSubscribedTotal, c.Total)
	}
	return b.Encode()
}

func DecodeCacheSubscribed(fields wire.Fields) (CacheSubscribed, error) {
	var c CacheSubscribed
	var err error
	if c.Version, err = fields.Uint64(schema.FieldSubscribedVersion); err != nil {
		return CacheSubscribed{}, err
	}
	if c.Owner, err = fields.Uint64(schema.FieldSubscribedOwner); err != nil {
		return CacheSubscribed{}, err
	}
	if c.Total, err = fields.Uint32(schema.FieldSubscribedTotal); err != nil {
		return CacheSubscribed{}, err
	}
	blocks, err := fields.Messages(schema.FieldSubscribedObjects)
	if err != nil {
		return CacheSubscribed{}, err
	}
	for _, tb := range blocks {
		typeID, err := tb.Uint32(schema.FieldTypeBlockTypeID)
		if err != nil {
			return CacheSubscribed{}, err
		}
		for _, f := range tb.All(schema.FieldTypeBlockData) {
			if f.Type != wire.TypeBytes {
				return CacheSubscribed{}, fmt.Errorf("%w: subscribed object data", wire.ErrTypeMismatch)
			}
			c.Objects = append(c.Objects, ObjectBlock{TypeID: typeID, Data: f.Bytes})
		}
	}
	return c, nil
}

func encodeBlock(o ObjectBlock) []byte {
	return wire.NewBuilder().
		Uint32(schema.FieldSingleTypeID, o.TypeID).
		Bytes(schema.FieldSingleData, o.Data).
		Encode()
}

func decodeBlock(fields wire.Fields) (ObjectBlock, error) {
	typeID, err := fields.Uint32(schema.FieldSingleTypeID)
	if err != nil {
		return ObjectBlock{}, err
	}
	data, err := fields.Bytes(schema.FieldSingleData)
	if err != nil {
		return ObjectBlock{}, err
	}
	return ObjectBlock{TypeID: typeID, Data: data}, nil
}

func decodeBlocks(fields wire.Fields, num uint32) ([]ObjectBlock, error) {
	msgs, err := fields.Messages(num)
	if err != nil {
		return nil, err
	}
	out := make([]ObjectBlock, 0, len(msgs))
	for _, m := range msgs {
		block, err := decodeBlock(m)
		if err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	return out, nil
}
