package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WireMessage is the envelope for every inbound and outbound message.
type WireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound message types recognized by the sync core.
const (
	TypePresenceUpdate = "presence_update"
	TypeListingCreated = "listing_created"
	TypeListingUpdated = "listing_updated"
	TypeListingDeleted = "listing_deleted"
	TypeTradeStatus    = "trade_status"
	TypeTradePrice     = "trade_price"
	TypeNotification   = "notification"
)

// Outbound message types.
const (
	TypeHeartbeat = "heartbeat"
	TypeRoomJoin  = "room_join"
	TypeRoomLeave = "room_leave"
)

// Local (non-wire) event names dispatched through the Event Registry.
const (
	EventConnectionStatus = "connection_status"
	EventMessage          = "message" // catch-all: every inbound envelope
)

// ConnectionStatusPayload is the payload of an EventConnectionStatus event.
type ConnectionStatusPayload struct {
	Connected bool   `json:"connected"`
	Reason    string `json:"reason,omitempty"`
}

// PresenceSource identifies the provenance of a presence record. It decides
// whether a new update may overwrite an old one.
type PresenceSource string

const (
	SourceSelf        PresenceSource = "self"
	SourceSocket      PresenceSource = "socket"
	SourceAPIDirect   PresenceSource = "api-direct"
	SourceAPIFallback PresenceSource = "api-fallback"
	SourceCache       PresenceSource = "cache"
)

// PresenceRecord is the cached online state for one tracked entity.
type PresenceRecord struct {
	EntityID string
	IsOnline bool
	LastSeen *time.Time
	Source   PresenceSource
	CachedAt time.Time

	// Unknown is the soft error flag: the record could not be refreshed and
	// no fresh cached value exists. The other fields hold the last known
	// state, if any.
	Unknown bool
}

// Fresh reports whether the record is younger than ttl.
func (r PresenceRecord) Fresh(ttl time.Duration, now time.Time) bool {
	if r.CachedAt.IsZero() {
		return false
	}
	return now.Sub(r.CachedAt) < ttl
}

// PresenceUpdatePayload is the payload of a TypePresenceUpdate message.
type PresenceUpdatePayload struct {
	EntityID string     `json:"entity_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// HeartbeatPayload is the payload of an outbound heartbeat.
type HeartbeatPayload struct {
	EntityID string    `json:"entity_id"`
	SentAt   time.Time `json:"sent_at"`
}

// RoomPayload is the payload of room_join / room_leave messages.
type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// ActionKind classifies a state-mutation action emitted by the State Bridge.
type ActionKind string

const (
	ActionListingCreated  ActionKind = "listing/created"
	ActionListingUpdated  ActionKind = "listing/updated"
	ActionListingDeleted  ActionKind = "listing/deleted"
	ActionTradeStatus     ActionKind = "trade/status"
	ActionTradePrice      ActionKind = "trade/price"
	ActionNotification    ActionKind = "notification/received"
	ActionRefreshCounters ActionKind = "counters/refresh"
)

// Action is a single state mutation handed to the state-store collaborator.
type Action struct {
	Kind    ActionKind
	Payload json.RawMessage
}

// TradeStatusPayload is the payload of a trade_status message.
type TradeStatusPayload struct {
	TradeID uuid.UUID `json:"trade_id"`
	Status  string    `json:"status"`
}

// TradePricePayload is the payload of a trade_price message.
type TradePricePayload struct {
	TradeID uuid.UUID `json:"trade_id"`
	Price   int64     `json:"price_cents"`
}

// Trade status values carried by trade_status messages. Transitions are not
// commutative; the bridge applies them strictly in receipt order.
const (
	TradeOfferSent = "offer_sent"
	TradeAccepted  = "accepted"
	TradeDeclined  = "declined"
	TradeCompleted = "completed"
	TradeCancelled = "cancelled"
)

// LocalActionKind classifies outbound local actions the bridge may mirror to
// the server. Anything outside the allow-list is dropped.
type LocalActionKind string

const (
	LocalListingCreated LocalActionKind = "listing_created"
	LocalListingUpdated LocalActionKind = "listing_updated"
	LocalListingDeleted LocalActionKind = "listing_deleted"
	LocalTradeStatus    LocalActionKind = "trade_status"
	LocalTradePrice     LocalActionKind = "trade_price"
)

// LocalAction is an outbound application action from the state-store
// collaborator.
type LocalAction struct {
	Kind    LocalActionKind
	Payload json.RawMessage
}
