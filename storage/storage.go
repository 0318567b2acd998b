// Package storage is the mutation store: a sqlite-backed transactional
// adapter giving the pipeline exclusive read-modify-write access to one
// sibling set at a time, plus the read paths (board snapshots, activity
// feed, membership checks) served outside the mutation pipeline.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Soham-047/trello-mini/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Storage provides access to the underlying sqlite database.
type Storage struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations. The connection pool is capped at one writer, which is what
// serializes mutation transactions per sibling set.
func Open(path string) (*Storage, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Storage{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for read paths that live outside the mutation
// pipeline, such as the activity feed query.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Transaction runs fn with exclusive read-modify-write access and commits
// atomically or not at all. Position reads and writes for a sibling set
// must all happen inside one call so concurrent moves never compute stale
// midpoints.
func (s *Storage) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &Tx{tx: sqlTx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IsMember reports whether userID belongs to the board. Used as the
// authorization check before any mutation transaction opens.
func (s *Storage) IsMember(ctx context.Context, boardID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM board_members WHERE board_id = ? AND user_id = ?`,
		boardID, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// BoardOwner returns the owning user of a board.
func (s *Storage) BoardOwner(ctx context.Context, boardID string) (string, error) {
	var ownerID string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM boards WHERE id = ?`, boardID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("board %s: %w", boardID, domain.ErrNotFound)
	}
	return ownerID, err
}

// BoardIDForList resolves the owning board of a list.
func (s *Storage) BoardIDForList(ctx context.Context, listID string) (string, error) {
	var boardID string
	err := s.db.QueryRowContext(ctx, `SELECT board_id FROM lists WHERE id = ?`, listID).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)
	}
	return boardID, err
}

// BoardIDForCard resolves the owning board of a card.
func (s *Storage) BoardIDForCard(ctx context.Context, cardID string) (string, error) {
	var boardID string
	err := s.db.QueryRowContext(ctx,
		`SELECT l.board_id FROM cards c JOIN lists l ON l.id = c.list_id WHERE c.id = ?`,
		cardID).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("card %s: %w", cardID, domain.ErrNotFound)
	}
	return boardID, err
}

// ListBoards returns every board the user is a member of.
func (s *Storage) ListBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.id, b.title, b.visibility, b.owner_id
		 FROM boards b JOIN board_members m ON m.board_id = b.id
		 WHERE m.user_id = ? ORDER BY b.created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	boards := []domain.Board{}
	for rows.Next() {
		var b domain.Board
		if err := rows.Scan(&b.ID, &b.Title, &b.Visibility, &b.OwnerID); err != nil {
			return nil, err
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// FetchBoard assembles the full snapshot for one board: lists and cards in
// display order (position, then creation order).
func (s *Storage) FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	var snap domain.BoardSnapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, visibility, owner_id FROM boards WHERE id = ?`, boardID).
		Scan(&snap.Board.ID, &snap.Board.Title, &snap.Board.Visibility, &snap.Board.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("board %s: %w", boardID, domain.ErrNotFound)
	}
	if err != nil {
		return snap, err
	}

	memberRows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM board_members WHERE board_id = ? ORDER BY user_id`, boardID)
	if err != nil {
		return snap, err
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var userID string
		if err := memberRows.Scan(&userID); err != nil {
			return snap, err
		}
		snap.Board.Members = append(snap.Board.Members, userID)
	}
	if err := memberRows.Err(); err != nil {
		return snap, err
	}

	listRows, err := s.db.QueryContext(ctx,
		`SELECT id, board_id, title, position FROM lists
		 WHERE board_id = ? ORDER BY position, created_at, id`, boardID)
	if err != nil {
		return snap, err
	}
	defer listRows.Close()

	snap.Lists = []domain.ListSnapshot{}
	listIdx := map[string]int{}
	for listRows.Next() {
		var l domain.List
		if err := listRows.Scan(&l.ID, &l.BoardID, &l.Title, &l.Position); err != nil {
			return snap, err
		}
		listIdx[l.ID] = len(snap.Lists)
		snap.Lists = append(snap.Lists, domain.ListSnapshot{List: l, Cards: []domain.Card{}})
	}
	if err := listRows.Err(); err != nil {
		return snap, err
	}

	cardRows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.list_id, c.title, c.description, c.position, c.labels, c.due_date
		 FROM cards c JOIN lists l ON l.id = c.list_id
		 WHERE l.board_id = ? ORDER BY c.position, c.created_at, c.id`, boardID)
	if err != nil {
		return snap, err
	}
	defer cardRows.Close()
	for cardRows.Next() {
		card, err := scanCard(cardRows)
		if err != nil {
			return snap, err
		}
		if i, ok := listIdx[card.ListID]; ok {
			snap.Lists[i].Cards = append(snap.Lists[i].Cards, card)
		}
	}
	if err := cardRows.Err(); err != nil {
		return snap, err
	}

	if err := s.attachAssignees(ctx, boardID, &snap); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *Storage) attachAssignees(ctx context.Context, boardID string, snap *domain.BoardSnapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.card_id, a.user_id FROM card_assignees a
		 JOIN cards c ON c.id = a.card_id JOIN lists l ON l.id = c.list_id
		 WHERE l.board_id = ? ORDER BY a.user_id`, boardID)
	if err != nil {
		return err
	}
	defer rows.Close()

	byCard := map[string][]string{}
	for rows.Next() {
		var cardID, userID string
		if err := rows.Scan(&cardID, &userID); err != nil {
			return err
		}
		byCard[cardID] = append(byCard[cardID], userID)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for li := range snap.Lists {
		for ci := range snap.Lists[li].Cards {
			c := &snap.Lists[li].Cards[ci]
			c.Assignees = byCard[c.ID]
		}
	}
	return nil
}

// FetchActivity returns up to limit audit entries for the board, newest
// first. The core only appends entries; this read path serves them.
func (s *Storage) FetchActivity(ctx context.Context, boardID string, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, board_id, actor_id, verb, payload, created_at FROM activity_log
		 WHERE board_id = ? ORDER BY created_at DESC LIMIT ?`, boardID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.ActivityEntry{}
	for rows.Next() {
		var e domain.ActivityEntry
		var payload string
		if err := rows.Scan(&e.ID, &e.BoardID, &e.ActorID, &e.Verb, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FetchComments returns a card's comments in creation order.
func (s *Storage) FetchComments(ctx context.Context, cardID string) ([]domain.Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, card_id, author_id, text, created_at FROM comments
		 WHERE card_id = ? ORDER BY created_at, id`, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		var created int64
		if err := rows.Scan(&c.ID, &c.CardID, &c.AuthorID, &c.Text, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (domain.Card, error) {
	var c domain.Card
	var labels string
	var due sql.NullString
	if err := row.Scan(&c.ID, &c.ListID, &c.Title, &c.Description, &c.Position, &labels, &due); err != nil {
		return c, err
	}
	if err := decodeLabels(labels, &c.Labels); err != nil {
		return c, err
	}
	if due.Valid {
		t, err := time.Parse(time.RFC3339Nano, due.String)
		if err != nil {
			return c, fmt.Errorf("parse due date: %w", err)
		}
		c.DueDate = &t
	}
	return c, nil
}
