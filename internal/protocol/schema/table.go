package schema

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/gclink/internal/protocol/frame"
)

var (
	ErrUnknownKind  = errors.New("schema: unknown kind")
	ErrUnmappedKind = errors.New("schema: kind has no tag in table")
	ErrDuplicateTag = errors.New("schema: duplicate tag")
	ErrEncoding     = errors.New("schema: payload encoding mismatch")
)

// AttributeTable names the attribute definition indexes a game uses for
// containment and for typed item fields.
type AttributeTable struct {
	ContainerLow     uint32   `toml:"container_low"`
	ContainerHigh    uint32   `toml:"container_high"`
	ContainerCount   uint32   `toml:"container_count"`
	ContainerDefs    []uint32 `toml:"container_defs"`
	TradableAfter    uint32   `toml:"tradable_after"`
	DecorationBase   uint32   `toml:"decoration_base"`
	DecorationStride uint32   `toml:"decoration_stride"`
	DecorationSlots  uint32   `toml:"decoration_slots"`
}

// IsContainerDef reports whether def is a container definition index.
func (a AttributeTable) IsContainerDef(def uint32) bool {
	for _, d := range a.ContainerDefs {
		if d == def {
			return true
		}
	}
	return false
}

// Table maps logical kinds to one game's numeric tags.
type Table struct {
	Name       string
	AppID      uint32
	ItemTypeID uint32
	Tags       map[Kind]uint32
	Records    map[Kind]bool
	Attributes AttributeTable
}

// Tag returns the wire tag for kind, including the schema-driven bit when set.
func (t Table) Tag(kind Kind) (uint32, error) {
	tag, ok := t.Tags[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %s (%s)", ErrUnmappedKind, kind, t.Name)
	}
	if t.Records[kind] {
		return tag, nil
	}
	return tag | frame.ProtoMask, nil
}

// Kind resolves a wire tag, with or without the schema-driven bit.
func (t Table) Kind(raw uint32) Kind {
	tag := raw &^ frame.ProtoMask
	for k, v := range t.Tags {
		if v == tag {
			return k
		}
	}
	return KindUnknown
}

// IsRecord reports whether kind carries a structured binary record payload.
func (t Table) IsRecord(kind Kind) bool {
	return t.Records[kind]
}

// Envelope builds an outbound envelope for kind.
func (t Table) Envelope(kind Kind, payload []byte) (frame.Envelope, error) {
	tag, err := t.Tag(kind)
	if err != nil {
		return frame.Envelope{}, err
	}
	return frame.Envelope{AppID: t.AppID, Kind: tag, Payload: payload}, nil
}

// Classify resolves the logical kind of an inbound envelope and checks that its
// encoding bit agrees with the table.
func (t Table) Classify(env frame.Envelope) (Kind, error) {
	kind := t.Kind(env.Kind)
	if kind == KindUnknown {
		return KindUnknown, fmt.Errorf("%w: tag=%d app=%d", ErrUnknownKind, env.Tag(), env.AppID)
	}
	if env.IsProto() == t.Records[kind] {
		return kind, fmt.Errorf("%w: kind=%s proto=%v", ErrEncoding, kind, env.IsProto())
	}
	return kind, nil
}

// Validate rejects tables that cannot drive a session.
func (t Table) Validate() error {
	if t.AppID == 0 {
		return fmt.Errorf("schema: table %q missing app_id", t.Name)
	}
	seen := make(map[uint32]Kind, len(t.Tags))
	kinds := make([]Kind, 0, len(t.Tags))
	for k := range t.Tags {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		tag := t.Tags[k]
		if tag&frame.ProtoMask != 0 {
			return fmt.Errorf("schema: table %q kind=%s tag %d uses the encoding bit", t.Name, k, tag)
		}
		if prev, dup := seen[tag]; dup {
			return fmt.Errorf("%w: %d used by %s and %s", ErrDuplicateTag, tag, prev, k)
		}
		seen[tag] = k
	}
	for _, k := range []Kind{KindHello, KindWelcome, KindGoodbye, KindHeartbeat} {
		if _, ok := t.Tags[k]; !ok {
			return fmt.Errorf("%w: %s (%s)", ErrUnmappedKind, k, t.Name)
		}
	}
	a := t.Attributes
	if (a.ContainerLow == 0) != (a.ContainerHigh == 0) {
		return fmt.Errorf("schema: table %q container_low/container_high must be set together", t.Name)
	}
	return nil
}

// DefaultTable is the reference table used by tests and the example configuration.
// Real deployments load their numeric tags from a table file.
func DefaultTable() Table {
	return Table{
		Name:       "reference",
		AppID:      730,
		ItemTypeID: 1,
		Tags: map[Kind]uint32{
			KindHello:                     4006,
			KindWelcome:                   4004,
			KindGoodbye:                   4008,
			KindConnectionStatus:          4009,
			KindHeartbeat:                 4010,
			KindCacheSubscribed:           24,
			KindCacheUnsubscribed:         25,
			KindObjectCreate:              21,
			KindObjectUpdate:              22,
			KindObjectUpdateMultiple:      26,
			KindObjectDestroy:             23,
			KindCraft:                     1002,
			KindCraftResponse:             1003,
			KindRename:                    1006,
			KindInspect:                   9156,
			KindInspectResponse:           9157,
			KindContainerAdd:              1053,
			KindContainerRemove:           1054,
			KindContainerList:             1059,
			KindCustomizationNotification: 1090,
		},
		Records: map[Kind]bool{
			KindCraft:         true,
			KindCraftResponse: true,
			KindRename:        true,
		},
		Attributes: AttributeTable{
			ContainerLow:     272,
			ContainerHigh:    273,
			ContainerCount:   270,
			ContainerDefs:    []uint32{1201},
			TradableAfter:    75,
			DecorationBase:   113,
			DecorationStride: 4,
			DecorationSlots:  5,
		},
	}
}
