package schema

import (
	"fmt"

	"github.com/danmuck/gclink/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

// Kind is the logical message kind shared by every game. The numeric tag that
// travels on the wire comes from a per-game Table.
type Kind uint16

const (
	KindUnknown Kind = iota
	KindHello
	KindWelcome
	KindGoodbye
	KindConnectionStatus
	KindHeartbeat
	KindCacheSubscribed
	KindCacheUnsubscribed
	KindObjectCreate
	KindObjectUpdate
	KindObjectUpdateMultiple
	KindObjectDestroy
	KindCraft
	KindCraftResponse
	KindInspect
	KindInspectResponse
	KindRename
	KindContainerAdd
	KindContainerRemove
	KindContainerList
	KindCustomizationNotification
	kindCount
)

var kindNames = [...]string{
	KindUnknown:                   "unknown",
	KindHello:                     "hello",
	KindWelcome:                   "welcome",
	KindGoodbye:                   "goodbye",
	KindConnectionStatus:          "connection_status",
	KindHeartbeat:                 "heartbeat",
	KindCacheSubscribed:           "cache_subscribed",
	KindCacheUnsubscribed:         "cache_unsubscribed",
	KindObjectCreate:              "object_create",
	KindObjectUpdate:              "object_update",
	KindObjectUpdateMultiple:      "object_update_multiple",
	KindObjectDestroy:             "object_destroy",
	KindCraft:                     "craft",
	KindCraftResponse:             "craft_response",
	KindInspect:                   "inspect",
	KindInspectResponse:           "inspect_response",
	KindRename:                    "rename",
	KindContainerAdd:              "container_add",
	KindContainerRemove:           "container_remove",
	KindContainerList:             "container_list",
	KindCustomizationNotification: "customization_notification",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint16(k))
}

// ParseKind resolves a kind by its snake_case name.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name && Kind(k) != KindUnknown {
			return Kind(k), true
		}
	}
	return KindUnknown, false
}

// Kinds lists every known logical kind.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := KindHello; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Field numbers of the generic shared-object wire messages.
const (
	// hello / welcome
	FieldHelloVersion     uint32 = 1
	FieldWelcomeVersion   uint32 = 1
	FieldWelcomeCaches    uint32 = 3
	FieldWelcomeLocation  uint32 = 5
	FieldStatusCode       uint32 = 1
	FieldGoodbyeReason    uint32 = 1
	FieldHeartbeatPayload uint32 = 1

	// single object (create / update / destroy)
	FieldSingleTypeID  uint32 = 2
	FieldSingleData    uint32 = 3
	FieldSingleVersion uint32 = 4
	FieldSingleOwner   uint32 = 5

	// multiple objects
	FieldMultiModified uint32 = 2
	FieldMultiVersion  uint32 = 3
	FieldMultiAdded    uint32 = 4
	FieldMultiRemoved  uint32 = 5
	FieldMultiOwner    uint32 = 6

	// cache subscribed
	FieldSubscribedObjects uint32 = 2
	FieldSubscribedVersion uint32 = 3
	FieldSubscribedOwner   uint32 = 4
	FieldSubscribedTotal   uint32 = 5

	// subscribed type block
	FieldTypeBlockTypeID uint32 = 1
	FieldTypeBlockData   uint32 = 2

	// customization notification
	FieldNotifyItemIDs uint32 = 1
	FieldNotifyRequest uint32 = 2
	FieldNotifyResult  uint32 = 3

	// inspect
	FieldInspectParamS  uint32 = 1
	FieldInspectParamA  uint32 = 2
	FieldInspectParamD  uint32 = 3
	FieldInspectParamM  uint32 = 4
	FieldInspectItem    uint32 = 1
	FieldInspectItemID  uint32 = 1
	FieldInspectDef     uint32 = 2
	FieldInspectPaint   uint32 = 3
	FieldInspectWear    uint32 = 4
	FieldInspectSeed    uint32 = 5
	FieldInspectQuality uint32 = 6

	// container request
	FieldContainerID   uint32 = 1
	FieldContainerItem uint32 = 2
)

// Requirement names one wire field a kind must carry.
type Requirement struct {
	Num  uint32
	Type wire.Type
}

type ValidationError struct {
	Kind   Kind
	Num    uint32
	Reason string
}

func (e ValidationError) Error() string {
	if e.Num == 0 {
		return fmt.Sprintf("schema: kind=%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("schema: kind=%s field=%d: %s", e.Kind, e.Num, e.Reason)
}

var requirements = map[Kind][]Requirement{
	KindObjectCreate:  {{FieldSingleTypeID, wire.TypeVarint}, {FieldSingleData, wire.TypeBytes}},
	KindObjectUpdate:  {{FieldSingleTypeID, wire.TypeVarint}, {FieldSingleData, wire.TypeBytes}},
	KindObjectDestroy: {{FieldSingleTypeID, wire.TypeVarint}, {FieldSingleData, wire.TypeBytes}},
	KindCustomizationNotification: {
		{FieldNotifyRequest, wire.TypeVarint},
	},
	KindInspectResponse: {
		{FieldInspectItem, wire.TypeBytes},
	},
}

// Validate enforces required fields and their wire types for kinds that declare them.
// Kinds without requirements and unknown fields pass.
func Validate(kind Kind, fields wire.Fields) error {
	reqs, ok := requirements[kind]
	if !ok {
		return nil
	}
	for _, req := range reqs {
		f, found := fields.Get(req.Num)
		if !found {
			log.Debug().Str("kind", kind.String()).Uint32("field", req.Num).Msg("schema.Validate missing field")
			return ValidationError{Kind: kind, Num: req.Num, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().Str("kind", kind.String()).Uint32("field", req.Num).Msg("schema.Validate type mismatch")
			return ValidationError{Kind: kind, Num: req.Num, Reason: "type mismatch"}
		}
	}
	return nil
}
