package domain

import (
	"encoding/json"
	"time"
)

// Board visibility values.
const (
	VisibilityPrivate   = "private"
	VisibilityWorkspace = "workspace"
)

// Board is the top-level collaboration unit. The owner is always a member.
type Board struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Visibility string   `json:"visibility"`
	OwnerID    string   `json:"ownerId"`
	Members    []string `json:"members,omitempty"`
}

// List is an ordered column on a board. Position is an ordering key only,
// never an identity; ties are broken by creation order.
type List struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	Title    string `json:"title"`
	Position int64  `json:"position"`
}

// Card is an ordered item in a list.
type Card struct {
	ID          string     `json:"id"`
	ListID      string     `json:"listId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Position    int64      `json:"position"`
	Labels      []string   `json:"labels,omitempty"`
	Assignees   []string   `json:"assignees,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// Comment belongs to a card. AuthorID is nil when the author was deleted.
type Comment struct {
	ID        string    `json:"id"`
	CardID    string    `json:"cardId"`
	AuthorID  *string   `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListSnapshot is a list together with its cards in display order.
type ListSnapshot struct {
	List
	Cards []Card `json:"cards"`
}

// BoardSnapshot is the full read model for one board.
type BoardSnapshot struct {
	Board Board          `json:"board"`
	Lists []ListSnapshot `json:"lists"`
}

// ActivityEntry is one immutable row of a board's audit trail. Entries are
// append-only and survive deletion of the board they describe.
type ActivityEntry struct {
	ID        string  `json:"id"`
	BoardID   string  `json:"boardId"`
	ActorID   *string `json:"actorId"`
	Verb      string  `json:"verb"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64   `json:"createdAt"`
}
