package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/Soham-047/trello-mini/domain"
)

// ScopeKind selects which sibling set a Scope addresses.
type ScopeKind int

const (
	// ScopeLists addresses the lists of one board.
	ScopeLists ScopeKind = iota
	// ScopeCards addresses the cards of one list.
	ScopeCards
)

// Scope identifies one sibling set: all items sharing an immediate parent
// and therefore one position space.
type Scope struct {
	Kind     ScopeKind
	ParentID string
}

func (s Scope) table() (table, parentCol string) {
	if s.Kind == ScopeCards {
		return "cards", "list_id"
	}
	return "lists", "board_id"
}

// Sibling is one (item, position) pair of a sibling set.
type Sibling struct {
	ID       string
	Position int64
}

// Tx is one mutation-store transaction. All methods observe and modify the
// same uncommitted state; nothing is visible to readers until the enclosing
// Transaction call commits.
type Tx struct {
	tx *sql.Tx
}

// Unwrap exposes the sql transaction so collaborators such as the audit
// recorder can append rows atomically with the mutation.
func (t *Tx) Unwrap() *sql.Tx {
	return t.tx
}

// Siblings returns the scope's items ordered by position, ties broken by
// creation order.
func (t *Tx) Siblings(ctx context.Context, scope Scope) ([]Sibling, error) {
	table, parentCol := scope.table()
	query := fmt.Sprintf(
		`SELECT id, position FROM %s WHERE %s = ? ORDER BY position, created_at, id`,
		table, parentCol)
	rows, err := t.tx.QueryContext(ctx, query, scope.ParentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	siblings := []Sibling{}
	for rows.Next() {
		var s Sibling
		if err := rows.Scan(&s.ID, &s.Position); err != nil {
			return nil, err
		}
		siblings = append(siblings, s)
	}
	return siblings, rows.Err()
}

// WritePosition updates one item's ordering key within its current scope.
func (t *Tx) WritePosition(ctx context.Context, scope Scope, itemID string, pos int64) error {
	table, _ := scope.table()
	res, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET position = ? WHERE id = ?`, table), pos, itemID)
	if err != nil {
		return err
	}
	return requireRow(res, itemID)
}

// MoveCard reparents a card to another list with the given position. Used
// for cross-container moves; same-list moves go through WritePosition.
func (t *Tx) MoveCard(ctx context.Context, cardID, listID string, pos int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE cards SET list_id = ?, position = ? WHERE id = ?`, listID, pos, cardID)
	if err != nil {
		return err
	}
	return requireRow(res, cardID)
}

// InsertBoard creates a board and enrolls the owner as its first member.
func (t *Tx) InsertBoard(ctx context.Context, b domain.Board) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO boards (id, title, visibility, owner_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Title, b.Visibility, b.OwnerID, domain.NextTimestamp())
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO board_members (board_id, user_id) VALUES (?, ?)`, b.ID, b.OwnerID)
	return err
}

// DeleteBoard removes the board; lists, cards, comments and memberships
// cascade. Activity entries stay behind.
func (t *Tx) DeleteBoard(ctx context.Context, boardID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM boards WHERE id = ?`, boardID)
	if err != nil {
		return err
	}
	return requireRow(res, boardID)
}

// AddMember enrolls a user on the board. It reports false when the user was
// already a member.
func (t *Tx) AddMember(ctx context.Context, boardID, userID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO board_members (board_id, user_id) VALUES (?, ?)`, boardID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InsertList creates a list row.
func (t *Tx) InsertList(ctx context.Context, l domain.List) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO lists (id, board_id, title, position, created_at) VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.BoardID, l.Title, l.Position, domain.NextTimestamp())
	return err
}

// GetList loads one list.
func (t *Tx) GetList(ctx context.Context, listID string) (domain.List, error) {
	var l domain.List
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, board_id, title, position FROM lists WHERE id = ?`, listID).
		Scan(&l.ID, &l.BoardID, &l.Title, &l.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return l, fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)
	}
	return l, err
}

// UpdateListTitle renames a list.
func (t *Tx) UpdateListTitle(ctx context.Context, listID, title string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE lists SET title = ? WHERE id = ?`, title, listID)
	if err != nil {
		return err
	}
	return requireRow(res, listID)
}

// DeleteList removes a list; its cards cascade.
func (t *Tx) DeleteList(ctx context.Context, listID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM lists WHERE id = ?`, listID)
	if err != nil {
		return err
	}
	return requireRow(res, listID)
}

// InsertCard creates a card row.
func (t *Tx) InsertCard(ctx context.Context, c domain.Card) error {
	labels, err := encodeLabels(c.Labels)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO cards (id, list_id, title, description, position, labels, due_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ListID, c.Title, c.Description, c.Position, labels, encodeDue(c.DueDate), domain.NextTimestamp())
	if err != nil {
		return err
	}
	return t.writeAssignees(ctx, c.ID, c.Assignees)
}

// GetCard loads one card with its assignees.
func (t *Tx) GetCard(ctx context.Context, cardID string) (domain.Card, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT id, list_id, title, description, position, labels, due_date FROM cards WHERE id = ?`,
		cardID)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("card %s: %w", cardID, domain.ErrNotFound)
	}
	if err != nil {
		return c, err
	}

	rows, err := t.tx.QueryContext(ctx,
		`SELECT user_id FROM card_assignees WHERE card_id = ? ORDER BY user_id`, cardID)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return c, err
		}
		c.Assignees = append(c.Assignees, userID)
	}
	return c, rows.Err()
}

// UpdateCard overwrites the card's scalar fields and assignee set.
// Concurrent edits to the same field resolve by whichever commit lands
// last; there is no merge.
func (t *Tx) UpdateCard(ctx context.Context, c domain.Card) error {
	labels, err := encodeLabels(c.Labels)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE cards SET title = ?, description = ?, labels = ?, due_date = ? WHERE id = ?`,
		c.Title, c.Description, labels, encodeDue(c.DueDate), c.ID)
	if err != nil {
		return err
	}
	if err := requireRow(res, c.ID); err != nil {
		return err
	}
	return t.writeAssignees(ctx, c.ID, c.Assignees)
}

// DeleteCard removes a card; comments and assignees cascade.
func (t *Tx) DeleteCard(ctx context.Context, cardID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, cardID)
	if err != nil {
		return err
	}
	return requireRow(res, cardID)
}

// InsertComment creates a comment row.
func (t *Tx) InsertComment(ctx context.Context, c domain.Comment) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO comments (id, card_id, author_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.CardID, c.AuthorID, c.Text, c.CreatedAt.UnixNano())
	return err
}

// BoardIDForList resolves a list's board inside the transaction.
func (t *Tx) BoardIDForList(ctx context.Context, listID string) (string, error) {
	var boardID string
	err := t.tx.QueryRowContext(ctx, `SELECT board_id FROM lists WHERE id = ?`, listID).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)
	}
	return boardID, err
}

func (t *Tx) writeAssignees(ctx context.Context, cardID string, assignees []string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM card_assignees WHERE card_id = ?`, cardID); err != nil {
		return err
	}
	for _, userID := range assignees {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO card_assignees (card_id, user_id) VALUES (?, ?)`, cardID, userID); err != nil {
			return err
		}
	}
	return nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func encodeLabels(labels []string) (string, error) {
	if len(labels) == 0 {
		return "[]", nil
	}
	data, err := sonic.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("encode labels: %w", err)
	}
	return string(data), nil
}

func decodeLabels(data string, dst *[]string) error {
	if data == "" || data == "[]" {
		return nil
	}
	return sonic.Unmarshal([]byte(data), dst)
}

func encodeDue(due *time.Time) any {
	if due == nil {
		return nil
	}
	return due.UTC().Format(time.RFC3339Nano)
}
