package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Soham-047/trello-mini/domain"
	"github.com/Soham-047/trello-mini/hub"
	"github.com/Soham-047/trello-mini/pipeline"
)

type stubAuth struct {
	userID string
}

func (a stubAuth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	return a.userID, nil
}

type stubMutator struct {
	board   domain.Board
	list    domain.List
	card    domain.Card
	comment domain.Comment
	err     error

	lastActor string
	lastIndex int
	lastList  string
}

func (m *stubMutator) CreateBoard(_ context.Context, actorID, title, visibility string) (domain.Board, error) {
	m.lastActor = actorID
	return m.board, m.err
}
func (m *stubMutator) DeleteBoard(_ context.Context, actorID, boardID string) error {
	m.lastActor = actorID
	return m.err
}
func (m *stubMutator) AddMember(_ context.Context, actorID, boardID, userID string) error {
	m.lastActor = actorID
	return m.err
}
func (m *stubMutator) CreateList(_ context.Context, actorID, boardID, title string) (domain.List, error) {
	return m.list, m.err
}
func (m *stubMutator) RenameList(_ context.Context, actorID, listID, title string) (domain.List, error) {
	return m.list, m.err
}
func (m *stubMutator) MoveList(_ context.Context, actorID, listID string, index int) (domain.List, error) {
	m.lastIndex = index
	return m.list, m.err
}
func (m *stubMutator) DeleteList(_ context.Context, actorID, listID string) error {
	return m.err
}
func (m *stubMutator) CreateCard(_ context.Context, actorID, listID, title, description string) (domain.Card, error) {
	return m.card, m.err
}
func (m *stubMutator) UpdateCard(_ context.Context, actorID, cardID string, patch pipeline.CardPatch) (domain.Card, error) {
	return m.card, m.err
}
func (m *stubMutator) MoveCard(_ context.Context, actorID, cardID, toListID string, index int) (domain.Card, error) {
	m.lastList = toListID
	m.lastIndex = index
	return m.card, m.err
}
func (m *stubMutator) DeleteCard(_ context.Context, actorID, cardID string) error {
	return m.err
}
func (m *stubMutator) AddComment(_ context.Context, actorID, cardID, text string) (domain.Comment, error) {
	return m.comment, m.err
}

type stubReader struct {
	boards  []domain.Board
	entries []domain.ActivityEntry
	member  bool
	err     error
}

func (r *stubReader) ListBoards(_ context.Context, _ string) ([]domain.Board, error) {
	return r.boards, r.err
}
func (r *stubReader) FetchActivity(_ context.Context, _ string, _ int) ([]domain.ActivityEntry, error) {
	return r.entries, r.err
}
func (r *stubReader) FetchComments(_ context.Context, _ string) ([]domain.Comment, error) {
	return []domain.Comment{}, r.err
}
func (r *stubReader) BoardIDForCard(_ context.Context, _ string) (string, error) {
	return "b1", r.err
}
func (r *stubReader) IsMember(_ context.Context, _, _ string) (bool, error) {
	return r.member, r.err
}

type stubSnapshots struct {
	snap domain.BoardSnapshot
	err  error
}

func (s *stubSnapshots) FetchBoard(_ context.Context, _ string) (domain.BoardSnapshot, error) {
	return s.snap, s.err
}

type testServer struct {
	e       *echo.Echo
	mutator *stubMutator
	reader  *stubReader
	snaps   *stubSnapshots
	hub     *hub.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		e:       echo.New(),
		mutator: &stubMutator{},
		reader:  &stubReader{member: true},
		snaps:   &stubSnapshots{},
		hub:     hub.New(nil, 8),
	}
	Register(s.e, s.mutator, s.reader, s.snaps, s.hub, stubAuth{userID: "alice"}, nil)
	return s
}

func (s *testServer) request(method, path, body string, authorized bool) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if authorized {
		req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestRoutesRequireAuthorization(t *testing.T) {
	s := newTestServer(t)
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/boards"},
		{http.MethodPost, "/api/boards"},
		{http.MethodGet, "/api/boards/b1"},
		{http.MethodPost, "/api/boards/b1/presence"},
		{http.MethodPost, "/api/cards/c1/move"},
	} {
		rec := s.request(route.method, route.path, "{}", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", route.method, route.path)
	}
}

func TestHealthzIsOpen(t *testing.T) {
	s := newTestServer(t)
	rec := s.request(http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateBoard(t *testing.T) {
	s := newTestServer(t)
	s.mutator.board = domain.Board{ID: "b1", Title: "Roadmap"}

	rec := s.request(http.MethodPost, "/api/boards", `{"title":"Roadmap"}`, true)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Roadmap"`)
	assert.Equal(t, "alice", s.mutator.lastActor)
}

func TestCreateBoardRejectsUnknownFields(t *testing.T) {
	s := newTestServer(t)
	rec := s.request(http.MethodPost, "/api/boards", `{"title":"x","bogus":true}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{domain.ErrValidation, http.StatusBadRequest},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrConflictExhausted, http.StatusConflict},
	}
	for _, tc := range cases {
		s := newTestServer(t)
		s.mutator.err = tc.err
		rec := s.request(http.MethodPost, "/api/cards/c1/move", `{"index":1}`, true)
		assert.Equal(t, tc.code, rec.Code, "error %v", tc.err)
	}
}

func TestMoveCardPassesTarget(t *testing.T) {
	s := newTestServer(t)
	s.mutator.card = domain.Card{ID: "c1", ListID: "l2", Position: 1536}

	rec := s.request(http.MethodPost, "/api/cards/c1/move", `{"index":2,"toListId":"l2"}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, s.mutator.lastIndex)
	assert.Equal(t, "l2", s.mutator.lastList)
}

func TestGetBoardRequiresMembership(t *testing.T) {
	s := newTestServer(t)
	s.reader.member = false
	rec := s.request(http.MethodGet, "/api/boards/b1", "", true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetBoardReturnsSnapshot(t *testing.T) {
	s := newTestServer(t)
	s.snaps.snap = domain.BoardSnapshot{
		Board: domain.Board{ID: "b1", Title: "Roadmap"},
		Lists: []domain.ListSnapshot{{List: domain.List{ID: "l1", Title: "Todo"}, Cards: []domain.Card{}}},
	}
	rec := s.request(http.MethodGet, "/api/boards/b1", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Todo"`)
}

func TestGetActivityRejectsBadLimit(t *testing.T) {
	s := newTestServer(t)
	rec := s.request(http.MethodGet, "/api/boards/b1/activity?limit=zero", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.request(http.MethodGet, "/api/boards/b1/activity?limit=-1", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchCardParsesDueDate(t *testing.T) {
	s := newTestServer(t)
	rec := s.request(http.MethodPatch, "/api/cards/c1", `{"dueDate":"2026-09-15T09:00:00Z"}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.request(http.MethodPatch, "/api/cards/c1", `{"dueDate":"tomorrow"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPresenceRelaysPingOnly(t *testing.T) {
	s := newTestServer(t)
	conn := s.hub.NewConn()
	s.hub.Join("b1", conn)

	rec := s.request(http.MethodPost, "/api/boards/b1/presence",
		`{"type":"presence.ping","payload":{"userId":"alice"}}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case env := <-conn.Events():
		assert.Equal(t, domain.EventPresencePing, env.Type)
		assert.True(t, env.Ephemeral, "relayed frames are tagged ephemeral")
	default:
		t.Fatal("presence not relayed")
	}

	rec = s.request(http.MethodPost, "/api/boards/b1/presence",
		`{"type":"card.created","payload":{}}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "inbound frames never mutate state")
}

func TestGetCommentsRequiresMembership(t *testing.T) {
	s := newTestServer(t)
	rec := s.request(http.MethodGet, "/api/cards/c1/comments", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.reader.member = false
	rec = s.request(http.MethodGet, "/api/cards/c1/comments", "", true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPresenceRequiresMembership(t *testing.T) {
	s := newTestServer(t)
	s.reader.member = false
	rec := s.request(http.MethodPost, "/api/boards/b1/presence",
		`{"type":"presence.ping","payload":{}}`, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
