package api

import (
	"context"

	"github.com/Soham-047/trello-mini/domain"
	"github.com/Soham-047/trello-mini/pipeline"
)

// Mutator is the mutation pipeline as seen by the handlers. Every write
// goes through it; handlers never touch the store directly for writes.
type Mutator interface {
	CreateBoard(ctx context.Context, actorID, title, visibility string) (domain.Board, error)
	DeleteBoard(ctx context.Context, actorID, boardID string) error
	AddMember(ctx context.Context, actorID, boardID, userID string) error
	CreateList(ctx context.Context, actorID, boardID, title string) (domain.List, error)
	RenameList(ctx context.Context, actorID, listID, title string) (domain.List, error)
	MoveList(ctx context.Context, actorID, listID string, index int) (domain.List, error)
	DeleteList(ctx context.Context, actorID, listID string) error
	CreateCard(ctx context.Context, actorID, listID, title, description string) (domain.Card, error)
	UpdateCard(ctx context.Context, actorID, cardID string, patch pipeline.CardPatch) (domain.Card, error)
	MoveCard(ctx context.Context, actorID, cardID, toListID string, index int) (domain.Card, error)
	DeleteCard(ctx context.Context, actorID, cardID string) error
	AddComment(ctx context.Context, actorID, cardID, text string) (domain.Comment, error)
}

// Reader serves the read paths that bypass the mutation pipeline.
type Reader interface {
	ListBoards(ctx context.Context, userID string) ([]domain.Board, error)
	FetchActivity(ctx context.Context, boardID string, limit int) ([]domain.ActivityEntry, error)
	FetchComments(ctx context.Context, cardID string) ([]domain.Comment, error)
	BoardIDForCard(ctx context.Context, cardID string) (string, error)
	IsMember(ctx context.Context, boardID, userID string) (bool, error)
}

// Snapshots serves full board snapshots, possibly through a cache.
type Snapshots interface {
	FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}
