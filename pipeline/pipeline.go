// Package pipeline sequences every tracked mutation: validate, persist
// inside one store transaction (allocating positions and recovering from
// exhausted gaps with a single bounded reindex), append the audit entry in
// that same transaction, then broadcast the committed change. Each
// operation holds its board's emission lock from before the transaction
// until after the broadcast, so within a board broadcast order matches
// commit order; across boards there is no ordering guarantee.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Soham-047/trello-mini/audit"
	"github.com/Soham-047/trello-mini/domain"
	"github.com/Soham-047/trello-mini/position"
	"github.com/Soham-047/trello-mini/storage"
)

// Broadcaster fans a committed event out to a board's connected clients.
type Broadcaster interface {
	Broadcast(boardID string, env domain.Envelope)
}

// Recorder appends one audit entry inside the caller's transaction.
type Recorder interface {
	Record(ctx context.Context, db audit.DBTX, e audit.Entry) (string, error)
}

// Evictor invalidates a board's cached snapshot after a commit.
type Evictor interface {
	EvictBoard(ctx context.Context, boardID string)
}

// Pipeline orchestrates persist → audit → broadcast for every mutation.
// It is the only component that touches all the others.
type Pipeline struct {
	store    *storage.Storage
	recorder Recorder
	hub      Broadcaster
	cache    Evictor
	logger   *log.Logger
	tracer   trace.Tracer

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Pipeline. cache may be nil when no snapshot cache is
// configured.
func New(store *storage.Storage, recorder Recorder, hub Broadcaster, cache Evictor, logger *log.Logger) *Pipeline {
	if store == nil {
		panic("pipeline: store is required")
	}
	if recorder == nil {
		panic("pipeline: recorder is required")
	}
	if hub == nil {
		panic("pipeline: hub is required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Pipeline{
		store:    store,
		recorder: recorder,
		hub:      hub,
		cache:    cache,
		logger:   logger,
		tracer:   otel.Tracer("trello-mini/pipeline"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockBoard acquires the board's emission lock and returns its release
// function. The lock must span commit and broadcast: between a commit and
// its broadcast no other operation on the same board may commit, otherwise
// an observer could see the two events inverted.
func (p *Pipeline) lockBoard(boardID string) func() {
	p.locksMu.Lock()
	l, ok := p.locks[boardID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[boardID] = l
	}
	p.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// authorize rejects actors that are not members of the board. It runs
// before any transaction opens: a rejected mutation changes nothing,
// records nothing and broadcasts nothing.
func (p *Pipeline) authorize(ctx context.Context, m *opMetrics, boardID, actorID string) error {
	if actorID == "" {
		m.SetStage("auth")
		return fmt.Errorf("%w: actor required", domain.ErrValidation)
	}
	ok, err := p.store.IsMember(ctx, boardID, actorID)
	if err != nil {
		m.SetStage("auth")
		return fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		m.SetStage("auth")
		return fmt.Errorf("board %s: %w", boardID, domain.ErrForbidden)
	}
	return nil
}

// finish runs after a successful commit: evict the board's cached snapshot
// and fan the event out. Delivery problems are per-connection concerns
// inside the hub and can no longer affect the committed mutation.
func (p *Pipeline) finish(ctx context.Context, boardID string, env *domain.Envelope) {
	if p.cache != nil {
		p.cache.EvictBoard(ctx, boardID)
	}
	if env != nil {
		p.hub.Broadcast(boardID, *env)
	}
}

// detach severs the transaction from the originating connection: once the
// commit step starts it runs to completion or failure regardless of the
// client's liveness.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// placement is the outcome of resolving a target slot.
type placement struct {
	pos     int64
	moved   bool
	retried bool
}

// placeAt computes the ordering key for putting itemID at index within the
// scope's sibling set (index is relative to the set without the moved item,
// clamped to its bounds). When the midpoint gap is exhausted it renumbers
// the whole set with a uniform stride and retries exactly once; a second
// failure aborts the transaction with ErrConflictExhausted. Moving an item
// to the slot it already occupies reports moved=false and touches nothing.
func placeAt(ctx context.Context, tx *storage.Tx, scope storage.Scope, itemID string, index int) (placement, error) {
	siblings, err := tx.Siblings(ctx, scope)
	if err != nil {
		return placement{}, err
	}

	current := -1
	rest := make([]storage.Sibling, 0, len(siblings))
	for _, s := range siblings {
		if s.ID == itemID {
			current = len(rest)
			continue
		}
		rest = append(rest, s)
	}
	if index < 0 {
		index = 0
	}
	if index > len(rest) {
		index = len(rest)
	}
	if current >= 0 && index == current {
		return placement{moved: false}, nil
	}

	pos, err := between(rest, index)
	if errors.Is(err, position.ErrReindexRequired) {
		keys := position.Reindex(len(siblings))
		rest = rest[:0]
		for i, s := range siblings {
			if err := tx.WritePosition(ctx, scope, s.ID, keys[i]); err != nil {
				return placement{}, err
			}
			if s.ID != itemID {
				rest = append(rest, storage.Sibling{ID: s.ID, Position: keys[i]})
			}
		}
		pos, err = between(rest, index)
		if err != nil {
			return placement{}, fmt.Errorf("%w: sibling set for %s", domain.ErrConflictExhausted, scope.ParentID)
		}
		return placement{pos: pos, moved: true, retried: true}, nil
	}
	if err != nil {
		return placement{}, err
	}
	return placement{pos: pos, moved: true}, nil
}

func between(rest []storage.Sibling, index int) (int64, error) {
	var prev, next *int64
	if index > 0 {
		prev = &rest[index-1].Position
	}
	if index < len(rest) {
		next = &rest[index].Position
	}
	return position.Between(prev, next)
}

// tailPosition returns the key for appending to the scope's sibling set.
func tailPosition(ctx context.Context, tx *storage.Tx, scope storage.Scope) (int64, error) {
	siblings, err := tx.Siblings(ctx, scope)
	if err != nil {
		return 0, err
	}
	pl, err := placeAt(ctx, tx, scope, "", len(siblings))
	if err != nil {
		return 0, err
	}
	return pl.pos, nil
}

// event builds the broadcast envelope for a committed mutation. Encoding
// failures are logged and suppress the broadcast only; the commit stands.
func (p *Pipeline) event(m *opMetrics, eventType string, payload any) *domain.Envelope {
	env, err := domain.NewEvent(eventType, payload)
	if err != nil {
		m.SetStage("encode_event")
		p.logger.WithError(err).WithField("type", eventType).Error("failed to encode broadcast event")
		return nil
	}
	return &env
}
