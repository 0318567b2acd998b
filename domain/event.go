package domain

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Event types carried by the realtime channel. Everything except
// presence.ping originates from the mutation pipeline after a commit;
// presence.ping is relayed between clients and never persisted.
const (
	EventListCreated  = "list.created"
	EventListRenamed  = "list.renamed"
	EventListMoved    = "list.moved"
	EventListDeleted  = "list.deleted"
	EventCardCreated  = "card.created"
	EventCardMoved    = "card.moved"
	EventCardUpdated  = "card.updated"
	EventCardDeleted  = "card.deleted"
	EventCommentAdded = "comment.added"
	EventMemberAdded  = "member.added"
	EventPresencePing = "presence.ping"
)

// Envelope is the wire format in both directions on the realtime channel.
// Ephemeral is set on relayed client messages so receivers can tell them
// apart from committed state events.
type Envelope struct {
	Type      string          `json:"type"`
	Ephemeral bool            `json:"ephemeral,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent builds an envelope for a pipeline-originated event.
func NewEvent(eventType string, payload any) (Envelope, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, Payload: data}, nil
}

// Typed event payloads. The broadcast contract is a closed set of variants,
// not an open-ended map.

type ListMovedPayload struct {
	ListID   string `json:"listId"`
	BoardID  string `json:"boardId"`
	Position int64  `json:"position"`
}

type ListDeletedPayload struct {
	ListID  string `json:"listId"`
	BoardID string `json:"boardId"`
}

// CardMovedPayload covers moves within a list and across lists. A
// cross-list move is one combined event so a client's view changes
// atomically.
type CardMovedPayload struct {
	CardID     string `json:"cardId"`
	FromListID string `json:"fromListId"`
	ToListID   string `json:"toListId"`
	Position   int64  `json:"position"`
}

type CardDeletedPayload struct {
	CardID string `json:"cardId"`
	ListID string `json:"listId"`
}

type MemberAddedPayload struct {
	BoardID string `json:"boardId"`
	UserID  string `json:"userId"`
}

// PresencePayload is the ephemeral cursor/presence signal relayed between
// clients. It never touches persistence or the audit trail.
type PresencePayload struct {
	UserID string `json:"userId"`
	CardID string `json:"cardId,omitempty"`
	ListID string `json:"listId,omitempty"`
}
