package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Soham-047/trello-mini/storage"
)

func newTestDB(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAppendsEntry(t *testing.T) {
	s := newTestDB(t)
	r := NewRecorder(nil)
	ctx := context.Background()
	actor := "alice"

	id, err := r.Record(ctx, s.DB(), Entry{
		BoardID: "b1",
		ActorID: &actor,
		Verb:    VerbCardCreated,
		Payload: map[string]string{"title": "ship it"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := s.FetchActivity(ctx, "b1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, VerbCardCreated, entries[0].Verb)
	require.NotNil(t, entries[0].ActorID)
	assert.Equal(t, "alice", *entries[0].ActorID)
	assert.JSONEq(t, `{"title":"ship it"}`, string(entries[0].Payload))
}

func TestRecordDefaultsEmptyPayload(t *testing.T) {
	s := newTestDB(t)
	r := NewRecorder(nil)

	_, err := r.Record(context.Background(), s.DB(), Entry{BoardID: "b1", Verb: VerbBoardDeleted})
	require.NoError(t, err)

	entries, err := s.FetchActivity(context.Background(), "b1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{}`, string(entries[0].Payload))
	assert.Nil(t, entries[0].ActorID)
}

func TestRecordValidation(t *testing.T) {
	s := newTestDB(t)
	r := NewRecorder(nil)
	ctx := context.Background()

	_, err := r.Record(ctx, s.DB(), Entry{Verb: VerbCardCreated})
	assert.Error(t, err)

	_, err = r.Record(ctx, s.DB(), Entry{BoardID: "b1"})
	assert.Error(t, err)
}

func TestRecordInsideTransactionRollsBackWithIt(t *testing.T) {
	s := newTestDB(t)
	r := NewRecorder(nil)
	ctx := context.Background()

	tx, err := s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = r.Record(ctx, tx, Entry{BoardID: "b1", Verb: VerbListCreated})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	entries, err := s.FetchActivity(ctx, "b1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries, "a rolled-back mutation leaves no trail")
}

func TestRecordOrderedNewestFirst(t *testing.T) {
	s := newTestDB(t)
	r := NewRecorder(nil)
	ctx := context.Background()

	first, err := r.Record(ctx, s.DB(), Entry{BoardID: "b1", Verb: VerbListCreated})
	require.NoError(t, err)
	second, err := r.Record(ctx, s.DB(), Entry{BoardID: "b1", Verb: VerbCardCreated})
	require.NoError(t, err)

	entries, err := s.FetchActivity(ctx, "b1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second, entries[0].ID)
	assert.Equal(t, first, entries[1].ID)
}
