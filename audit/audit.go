// Package audit appends the immutable activity trail. Every tracked
// mutation gets exactly one entry, written inside the mutation's own store
// transaction so persisted state and audit trail can never diverge.
package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Soham-047/trello-mini/domain"
)

// Verbs recorded by the mutation pipeline.
const (
	VerbBoardCreated = "board_created"
	VerbBoardDeleted = "board_deleted"
	VerbMemberAdded  = "member_added"
	VerbListCreated  = "list_created"
	VerbListRenamed  = "list_renamed"
	VerbListMoved    = "list_moved"
	VerbListDeleted  = "list_deleted"
	VerbCardCreated  = "card_created"
	VerbCardUpdated  = "card_updated"
	VerbCardMoved    = "card_moved"
	VerbCardDeleted  = "card_deleted"
	VerbCommentAdded = "comment_added"
)

// DBTX is satisfied by *sql.DB and *sql.Tx. The pipeline passes its open
// transaction so the append commits or rolls back with the mutation.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Entry describes one activity record. ActorID is nil when the acting user
// no longer exists.
type Entry struct {
	BoardID string
	ActorID *string
	Verb    string
	Payload any
}

// Recorder appends activity entries. It exposes no update or delete
// operations.
type Recorder struct {
	logger *log.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Recorder{logger: logger}
}

// Record appends one entry and returns its id. A failure here must fail
// the whole mutation: the trail is a correctness requirement, not
// best-effort telemetry, so errors are returned, never swallowed.
func (r *Recorder) Record(ctx context.Context, db DBTX, e Entry) (string, error) {
	if e.BoardID == "" {
		return "", fmt.Errorf("audit: board id is required")
	}
	if e.Verb == "" {
		return "", fmt.Errorf("audit: verb is required")
	}

	payload := "{}"
	if e.Payload != nil {
		data, err := sonic.Marshal(e.Payload)
		if err != nil {
			return "", fmt.Errorf("audit: encode payload: %w", err)
		}
		payload = string(data)
	}

	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO activity_log (id, board_id, actor_id, verb, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, e.BoardID, e.ActorID, e.Verb, payload, domain.NextTimestamp())
	if err != nil {
		return "", fmt.Errorf("audit: append entry: %w", err)
	}

	r.logger.WithFields(log.Fields{
		"board_id": e.BoardID,
		"verb":     e.Verb,
		"entry_id": id,
	}).Debug("activity recorded")
	return id, nil
}
