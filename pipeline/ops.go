package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Soham-047/trello-mini/audit"
	"github.com/Soham-047/trello-mini/domain"
	"github.com/Soham-047/trello-mini/storage"
)

// CardPatch carries the card fields a client wants to overwrite. Nil means
// "leave unchanged"; concurrent edits to the same field resolve by
// whichever commit lands last.
type CardPatch struct {
	Title       *string
	Description *string
	Labels      *[]string
	Assignees   *[]string
	DueDate     *time.Time
	ClearDue    bool
}

// CreateBoard creates a board owned by the actor, who becomes its first
// member. No broadcast: nobody can be joined to a board before it exists.
func (p *Pipeline) CreateBoard(ctx context.Context, actorID, title, visibility string) (board domain.Board, err error) {
	ctx, m := p.newOpMetrics(ctx, "create_board")
	defer func() { m.Log(err) }()
	m.SetVerb(audit.VerbBoardCreated)

	if actorID == "" {
		m.SetStage("validate")
		return domain.Board{}, fmt.Errorf("%w: actor required", domain.ErrValidation)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		m.SetStage("validate")
		return domain.Board{}, fmt.Errorf("%w: title required", domain.ErrValidation)
	}
	if visibility == "" {
		visibility = domain.VisibilityPrivate
	}
	if visibility != domain.VisibilityPrivate && visibility != domain.VisibilityWorkspace {
		m.SetStage("validate")
		return domain.Board{}, fmt.Errorf("%w: unknown visibility %q", domain.ErrValidation, visibility)
	}

	board = domain.Board{
		ID:         uuid.NewString(),
		Title:      title,
		Visibility: visibility,
		OwnerID:    actorID,
		Members:    []string{actorID},
	}
	m.SetBoard(board.ID)

	defer p.lockBoard(board.ID)()
	ctx = detach(ctx)
	err = p.store.Transaction(ctx, func(tx *storage.Tx) error {
		if err := tx.InsertBoard(ctx, board); err != nil {
			m.SetStage("store")
			return err
		}
		if _, err := p.recorder.Record(ctx, tx.Unwrap(), audit.Entry{
			BoardID: board.ID,
			ActorID: &actorID,
			Verb:    audit.VerbBoardCreated,
			Payload: map[string]string{"title": board.Title},
		}); err != nil {
			m.SetStage("audit")
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Board{}, err
	}
	return board, nil
}

// DeleteBoard removes a board and, through cascade, its lists, cards,
// comments and memberships. The activity trail persists independently.
// Only the owner may delete a board.
func (p *Pipeline) DeleteBoard(ctx context.Context, actorID, boardID string) (err error) {
	ctx, m := p.newOpMetrics(ctx, "delete_board")
	defer func() { m.Log(err) }()
	m.SetBoard(boardID)
	m.SetVerb(audit.VerbBoardDeleted)

	owner, err := p.store.BoardOwner(ctx, boardID)
	if err != nil {
		m.SetStage("auth")
		return err
	}
	if actorID == "" || actorID != owner {
		m.SetStage("auth")
		return fmt.Errorf("board %s: only the owner may delete: %w", boardID, domain.ErrForbidden)
	}

	defer p.lockBoard(boardID)()
	ctx = detach(ctx)
	err = p.store.Transaction(ctx, func(tx *storage.Tx) error {
		if err := tx.DeleteBoard(ctx, boardID); err != nil {
			m.SetStage("store")
			return err
		}
		if _, err := p.recorder.Record(ctx, tx.Unwrap(), audit.Entry{
			BoardID: boardID,
			ActorID: &actorID,
			Verb:    audit.VerbBoardDeleted,
		}); err != nil {
			m.SetStage("audit")
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.finish(ctx, boardID, nil)
	return nil
}

// AddMember enrolls a user on the board. Adding an existing member is a
// no-op: no write, no audit entry, no event.
func (p *Pipeline) AddMember(ctx context.Context, actorID, boardID, userID string) (err error) {
	ctx, m := p.newOpMetrics(ctx, "add_member")
	defer func() { m.Log(err) }()
	m.SetBoard(boardID)
	m.SetVerb(audit.VerbMemberAdded)

	if userID == "" {
		m.SetStage("validate")
		return fmt.Errorf("%w: user id required", domain.ErrValidation)
	}
	if err = p.authorize(ctx, m, boardID, actorID); err != nil {
		return err
	}

	defer p.lockBoard(boardID)()
	ctx = detach(ctx)
	added := false
	err = p.store.Transaction(ctx, func(tx *storage.Tx) error {
		var txErr error
		added, txErr = tx.AddMember(ctx, boardID, userID)
		if txErr != nil {
			m.SetStage("store")
			return txErr
		}
		if !added {
			return nil
		}
		if _, txErr = p.recorder.Record(ctx, tx.Unwrap(), audit.Entry{
			BoardID: boardID,
			ActorID: &actorID,
			Verb:    audit.VerbMemberAdded,
			Payload: map[string]string{"member": userID},
		}); txErr != nil {
			m.SetStage("audit")
			return txErr
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !added {
		m.SetNoop()
		return nil
	}
	p.finish(ctx, boardID, p.event(m, domain.EventMemberAdded,
		domain.MemberAddedPayload{BoardID: boardID, UserID: userID}))
	return nil
}

// CreateList appends a list to the board.
func (p *Pipeline) CreateList(ctx context.Context, actorID, boardID, title string) (list domain.List, err error) {
	ctx, m := p.newOpMetrics(ctx, "create_list")
	defer func() { m.Log(err) }()
	m.SetBoard(boardID)
	m.SetVerb(audit.VerbListCreated)

	title = strings.TrimSpace(title)
	if title == "" {
		m.SetStage("validate")
		return domain.List{}, fmt.Errorf("%w: title required", domain.ErrValidation)
	}
	if err = p.authorize(ctx, m, boardID, actorID); err != nil {
		return domain.List{}, err
	}

	list = domain.List{ID: uuid.NewString(), BoardID: boardID, Title: title}

	defer p.lockBoard(boardID)()
	ctx = detach(ctx)
	err = p.store.Transaction(ctx, func(tx *storage.Tx) error {
		pos, txErr := tailPosition(ctx, tx, storage.Scope{Kind: storage.ScopeLists, ParentID: boardID})
		if txErr != nil {
			m.SetStage("store")
			return txErr
		}
		list.Position = pos
		if txErr = tx.InsertList(ctx, list); txErr != nil {
			m.SetStage("store")
			return txErr
		}
		if _, txErr = p.recorder.Record(ctx, tx.Unwrap(), audit.Entry{
			BoardID: boardID,
			ActorID: &actorID,
			Verb:    audit.VerbListCreated,
			Payload: map[string]string{"title": title},
		}); txErr != nil {
			m.SetStage("audit")
			return txErr
		}
		return nil
	})
	if err != nil {
		return domain.List{}, err
	}
	p.finish(ctx, boardID, p.event(m, domain.EventListCreated, list))
	return list, nil
}

// RenameList changes a list's title.
func (p *Pipeline) RenameList(ctx context.Context, actorID, listID, title string) (list domain.List, err error) {
	ctx, m := p.newOpMetrics(ctx, "rename_list")
	defer func() { m.Log(err) }()
	m.SetVerb(audit.VerbListRenamed)

	title = strings.TrimSpace(title)
	if title == "" {
		m.SetStage("validate")
		return domain.List{}, fmt.Errorf("%w: title required", domain.ErrValidation)
	}
	boardID, err := p.store.BoardIDForList(ctx, listID)
	if err != nil {
		m.SetStage("validate")
		return domain.List{}, err
	}
	m.SetBoard(boardID)
	if err = p.authorize(ctx, m, boardID, actorID); err != nil {
		return domain.List{}, err
	}

	defer p.lockBoard(boardID)()
	ctx = detach(ctx)
	err = p.store.Transaction(ctx, func(tx *storage.Tx) error {
		var txErr error
		list, txErr = tx.GetList(ctx, listID)
		if txErr != nil {
			m.SetStage("store")
			return txErr
		}
		if txErr = tx.UpdateListTitle(ctx, listID, title); txErr != nil {
			m.SetStage("store")
			return txErr
		}
		list.Title = title
		if _, txErr = p.recorder.Record(ctx, tx.Unwrap(), audit.Entry{
			BoardID: boardID,
			ActorID: &actorID,
			Verb:    audit.VerbListRenamed,
			Payload: map[string]string{"title": title},
		}); txErr != nil {
			m.SetStage("audit")
			return txErr
		}
		return nil
	})
	if err != nil {
		return domain.List{}, err
	}
	p.finish(ctx, boardID, p.event(m, domain.EventListRenamed, list))
	return list, nil
}

// MoveList places a list at index among its board's lists. Moving a list to
// the slot it already occupies is a no-op.
func (p *Pipeline) MoveList(ctx context.Context, actorID, listID string, index int) (list domain.List, err error) {
	ctx, m := p.newOpMetrics(ctx, "move_list")
	defer func() { m.Log(err) }()
	m.SetVerb(audit.VerbListMoved)

	boardID, err := p.store.BoardIDForList(ctx, listID)
	if err != nil {
		m.SetStage("validate")
		return domain.List{}, err
	}
	m.SetBoard(boardID)
	if err = p.authorize(ctx, m, boardID, actorID); err != nil {
		return domain.List{}, err
	}

	defer p.lockBoard(boardID)()
	ctx = detach(ctx)
	moved := false
	err = p.store.Transaction(ctx, func(tx *storage.Tx) error {
		var txErr error
		list, txErr = tx.GetList(ctx, listID)
		if txErr != nil {
			m.SetStage("store")
			return txErr
		}
		scope := storage.Scope{Kind: storage.ScopeLists, ParentID: boardID}
		pl, txErr := placeAt(ctx, tx, scope, listID, index)
		if txErr != nil {
			m.SetStage("store")
			return txErr
		}
		if pl.retried {
			m.SetRetried()
		}
		if !pl.moved {
			return nil
		}
		if txErr = tx.WritePosition(ctx, scope, listID, pl.pos); txErr != nil {
			m.SetStage("store")
			return txErr
		}
		list.Position = pl.pos
		moved = true
		if _, txErr = p.recorder.Record(ctx, tx.Unwrap(), audit.Entry{
			BoardID: boardID,
			ActorID: &actorID,
			Verb:    audit.VerbListMoved,
			Payload: map[string]any{"listId": listID, "position": pl.pos},
		}); txErr != nil {
			m.SetStage("audit")
			return txErr
		}
		return nil
	})
	if err != nil {
		return domain.List{}, err
	}
	if !moved {
		m.SetNoop()
		return list, nil
	}
	p.finish(ctx, boardID, p.event(m, domain.EventListMoved,
		domain.ListMovedPayload{ListID: listID, BoardID: boardID, Position: list.Position}))
	return list, nil
}

// DeleteList removes a list and, through cascade, its cards.
func (p *Pipeline) DeleteList(ctx context.Context, actorID, listID string) (err error) {
	ctx, m := p.newOpMetrics(ctx, "delete_list")
	defer func() { m.Log(err) }()
	m.SetVerb(audit.VerbListDeleted)

	boardID, err := p.store.BoardIDForList(ctx, listID)
	if err != nil {
		m.SetStage("validate")
		return err
	}
	m.SetBoard(boardID)
	if err = p.authorize(ctx, m, boardID, actorID); err != nil {
		return err
	}

	defer p.lockBoard(boardID)()
	ctx = detach(ctx)
	err = p.store.Transaction(ctx, func(tx *storage.Tx) error {
		list, txErr := tx.GetList(ctx, listID)
		if txErr != nil {
			m.SetStage("store")
			return txErr
		}
		if txErr = tx.DeleteList(ctx, listID); txErr != nil {
			m.SetStage("store")
			return txErr
		}
		if _, txErr = p.recorder.Record(ctx, tx.Unwrap(), audit.Entry{
			BoardID: boardID,
			ActorID: &actorID,
			Verb:    audit.VerbListDeleted,
			Payload: map[string]string{"title": list.Title},
		}); txErr != nil {
			m.SetStage("audit")
			return txErr
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.finish(ctx, boardID, p.event(m, domain.EventListDeleted,
		domain.ListDeletedPayload{ListID: listID, BoardID: boardID}))
	return nil
}

// CreateCard appends a card to the list.
func (p *Pipeline) CreateCard(ctx context.Context, actorID, listID, title, description string) (card domain.Card, err error) {
	ctx, m := p.newOpMetrics(ctx, "create_card")
	defer func() { m.Log(err) }()
	m.SetVerb(audit.VerbCardCreated)

	title = strings.TrimSpace(title)
	if title == "" {
		m.SetStage("validate")
		return domain.Card{}, fmt.Errorf("%w: title required", domain.ErrValidation)
	}
	boardID, err := p.store.BoardIDForList(ctx, listID)
	if err != nil {
		m.SetStage("validate")
		return domain.Card{}, err
	}
	m.SetBoard(boardID)
	if err = p.authorize(ctx, m, boardID, actorID); err != nil {
		return domain.Card{}, err
	}

	card = domain.Card{ID: uuid.NewString(), ListID: listID, Title: title, Description: description}

	defer p.lockBoard(boardID)()
	ctx = detach(ctx)
	err = p.store.Transaction(ctx, func(tx *storage.Tx) error {
		pos, txErr := tailPosition(ctx, tx, storage.Scope{Kind: storage.ScopeCards, ParentID: listID})
		if txErr != nil {
			m.SetStage("store")
			return txErr
		}
		card.Position = pos
		if txErr = tx.InsertCard(ctx, card); txErr != nil {
			m.SetStage("store")
			return txErr
		}
		if _, txErr = p.recorder.Record(ctx, tx.Unwrap(), audit.Entry{
			BoardID: boardID,
			ActorID: &actorID,
			Verb:    audit.VerbCardCreated,
			Payload: map[string]string{"title": title},
		}); txErr != nil {
			m.SetStage("audit")
			return txErr
		}
		return nil
	})
	if err != nil {
		return domain.Card{}, err
	}
	p.finish(ctx, boardID, p.event(m, domain.EventCardCreated, card))
	return card, nil
}

// UpdateCard overwrites the card fields present in the patch. Concurrent
// edits resolve last-write-wins per commit; there is no merge.
func (p *Pipeline) UpdateCard(ctx context.Context, actorID, cardID string, patch CardPatch) (card domain.Card, err error) {
	ctx, m := p.newOpMetrics(ctx, "update_card")
	defer func() { m.Log(err) }()
	m.SetVerb(audit.VerbCardUpdated)

	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		m.SetStage("validate")
		return domain.Card{}, fmt.Errorf("%w: title cannot be empty", domain.ErrValidation)
	}
	boardID, err := p.store.BoardIDForCard(ctx, cardID)
	if err != nil {
		m.SetStage("validate")
		return domain.Card{}, err
	}
	m.SetBoard(boardID)
	if err = p.authorize(ctx, m, boardID, actorID); err != nil {
		return domain.Card{}, err
	}

	changed := []string{}
	defer p.lockBoard(boardID)()
	ctx = detach(ctx)
	err = p.store.Transaction(ctx, func(tx *storage.Tx) error {
		var txErr error
		card, txErr = tx.GetCard(ctx, cardID)
		if txErr != nil {
			m.SetStage("store")
			return txErr
		}
		if patch.Title != nil {
			card.Title = strings.TrimSpace(*patch.Title)
			changed = append(changed, "title")
		}
		if patch.Description != nil {
			card.Description = *patch.Description
			changed = append(changed, "description")
		}
		if patch.Labels != nil {
			card.Labels = *patch.Labels
			changed = append(changed, "labels")
		}
		if patch.Assignees != nil {
			card.Assignees = *patch.Assignees
			changed = append(changed, "assignees")
		}
		if patch.ClearDue {
			card.DueDate = nil
			changed = append(changed, "dueDate")
		} else if patch.DueDate != nil {
			card.DueDate = patch.DueDate
			changed = append(changed, "dueDate")
		}
		if txErr = tx.UpdateCard(ctx, card); txErr != nil {
			m.SetStage("store")
			return txErr
		}
		if _, txErr = p.recorder.Record(ctx, tx.Unwrap(), audit.Entry{
			BoardID: boardID,
			ActorID: &actorID,
			Verb:    audit.VerbCardUpdated,
			Payload: map[string]any{"cardId": cardID, "fields": changed},
		}); txErr != nil {
			m.SetStage("audit")
			return txErr
		}
		return nil
	})
	if err != nil {
		return domain.Card{}, err
	}
	p.finish(ctx, boardID, p.event(m, domain.EventCardUpdated, card))
	return card, nil
}

// MoveCard places a card at index within toListID (its own list when
// toListID is empty). A cross-list move emits one combined card.moved event
// so the client's view changes atomically. Moving a card to the slot it
// already occupies is a no-op.
func (p *Pipeline) MoveCard(ctx context.Context, actorID, cardID, toListID string, index int) (card domain.Card, err error) {
	ctx, m := p.newOpMetrics(ctx, "move_card")
	defer func() { m.Log(err) }()
	m.SetVerb(audit.VerbCardMoved)

	boardID, err := p.store.BoardIDForCard(ctx, cardID)
	if err != nil {
		m.SetStage("validate")
		return domain.Card{}, err
	}
	m.SetBoard(boardID)
	if toListID != "" {
		targetBoard, berr := p.store.BoardIDForList(ctx, toListID)
		if berr != nil {
			m.SetStage("validate")
			return domain.Card{}, berr
		}
		if targetBoard != boardID {
			m.SetStage("validate")
			return domain.Card{}, fmt.Errorf("%w: cannot move a card across boards", domain.ErrValidation)
		}
	}
	if err = p.authorize(ctx, m, boardID, actorID); err != nil {
		return domain.Card{}, err
	}

	fromListID := ""
	moved := false
	defer p.lockBoard(boardID)()
	ctx = detach(ctx)
	err = p.store.Transaction(ctx, func(tx *storage.Tx) error {
		var txErr error
		card, txErr = tx.GetCard(ctx, cardID)
		if txErr != nil {
			m.SetStage("store")
			return txErr
		}
		fromListID = card.ListID
		target := toListID
		if target == "" {
			target = card.ListID
		}

		scope := storage.Scope{Kind: storage.ScopeCards, ParentID: target}
		pl, txErr := placeAt(ctx, tx, scope, cardID, index)
		if txErr != nil {
			m.SetStage("store")
			return txErr
		}
		if pl.retried {
			m.SetRetried()
		}
		if !pl.moved {
			return nil
		}
		if target == card.ListID {
			txErr = tx.WritePosition(ctx, scope, cardID, pl.pos)
		} else {
			txErr = tx.MoveCard(ctx, cardID, target, pl.pos)
		}
		if txErr != nil {
			m.SetStage("store")
			return txErr
		}
		card.ListID = target
		card.Position = pl.pos
		moved = true
		if _, txErr = p.recorder.Record(ctx, tx.Unwrap(), audit.Entry{
			BoardID: boardID,
			ActorID: &actorID,
			Verb:    audit.VerbCardMoved,
			Payload: map[string]any{
				"cardId":     cardID,
				"fromListId": fromListID,
				"toListId":   target,
				"position":   pl.pos,
			},
		}); txErr != nil {
			m.SetStage("audit")
			return txErr
		}
		return nil
	})
	if err != nil {
		return domain.Card{}, err
	}
	if !moved {
		m.SetNoop()
		return card, nil
	}
	p.finish(ctx, boardID, p.event(m, domain.EventCardMoved, domain.CardMovedPayload{
		CardID:     cardID,
		FromListID: fromListID,
		ToListID:   card.ListID,
		Position:   card.Position,
	}))
	return card, nil
}

// DeleteCard removes a card and, through cascade, its comments.
func (p *Pipeline) DeleteCard(ctx context.Context, actorID, cardID string) (err error) {
	ctx, m := p.newOpMetrics(ctx, "delete_card")
	defer func() { m.Log(err) }()
	m.SetVerb(audit.VerbCardDeleted)

	boardID, err := p.store.BoardIDForCard(ctx, cardID)
	if err != nil {
		m.SetStage("validate")
		return err
	}
	m.SetBoard(boardID)
	if err = p.authorize(ctx, m, boardID, actorID); err != nil {
		return err
	}

	listID := ""
	defer p.lockBoard(boardID)()
	ctx = detach(ctx)
	err = p.store.Transaction(ctx, func(tx *storage.Tx) error {
		card, txErr := tx.GetCard(ctx, cardID)
		if txErr != nil {
			m.SetStage("store")
			return txErr
		}
		listID = card.ListID
		if txErr = tx.DeleteCard(ctx, cardID); txErr != nil {
			m.SetStage("store")
			return txErr
		}
		if _, txErr = p.recorder.Record(ctx, tx.Unwrap(), audit.Entry{
			BoardID: boardID,
			ActorID: &actorID,
			Verb:    audit.VerbCardDeleted,
			Payload: map[string]string{"title": card.Title},
		}); txErr != nil {
			m.SetStage("audit")
			return txErr
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.finish(ctx, boardID, p.event(m, domain.EventCardDeleted,
		domain.CardDeletedPayload{CardID: cardID, ListID: listID}))
	return nil
}

// AddComment appends a comment to a card.
func (p *Pipeline) AddComment(ctx context.Context, actorID, cardID, text string) (comment domain.Comment, err error) {
	ctx, m := p.newOpMetrics(ctx, "add_comment")
	defer func() { m.Log(err) }()
	m.SetVerb(audit.VerbCommentAdded)

	text = strings.TrimSpace(text)
	if text == "" {
		m.SetStage("validate")
		return domain.Comment{}, fmt.Errorf("%w: text required", domain.ErrValidation)
	}
	boardID, err := p.store.BoardIDForCard(ctx, cardID)
	if err != nil {
		m.SetStage("validate")
		return domain.Comment{}, err
	}
	m.SetBoard(boardID)
	if err = p.authorize(ctx, m, boardID, actorID); err != nil {
		return domain.Comment{}, err
	}

	comment = domain.Comment{
		ID:        uuid.NewString(),
		CardID:    cardID,
		AuthorID:  &actorID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	defer p.lockBoard(boardID)()
	ctx = detach(ctx)
	err = p.store.Transaction(ctx, func(tx *storage.Tx) error {
		if txErr := tx.InsertComment(ctx, comment); txErr != nil {
			m.SetStage("store")
			return txErr
		}
		if _, txErr := p.recorder.Record(ctx, tx.Unwrap(), audit.Entry{
			BoardID: boardID,
			ActorID: &actorID,
			Verb:    audit.VerbCommentAdded,
			Payload: map[string]string{"text": text},
		}); txErr != nil {
			m.SetStage("audit")
			return txErr
		}
		return nil
	})
	if err != nil {
		return domain.Comment{}, err
	}
	p.finish(ctx, boardID, p.event(m, domain.EventCommentAdded, comment))
	return comment, nil
}
