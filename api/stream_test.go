package api

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Soham-047/trello-mini/domain"
)

func dialStream(t *testing.T, base, boardID string) (*http.Response, *bufio.Reader) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, base+"/api/boards/"+boardID+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

// readEvent scans past comments and keep-alives to the next data frame.
func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	lines := make(chan string, 1)
	go func() {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "data: ") {
				lines <- strings.TrimSpace(strings.TrimPrefix(line, "data: "))
				return
			}
		}
	}()
	select {
	case line := <-lines:
		return line
	case <-deadline:
		t.Fatal("no SSE frame arrived")
		return ""
	}
}

func TestStreamDeliversBroadcasts(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.e)
	t.Cleanup(srv.Close)

	resp, reader := dialStream(t, srv.URL, "b1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The connection joins the board group during the handshake; poll until
	// it is visible, then broadcast.
	require.Eventually(t, func() bool {
		return s.hub.GroupSize("b1") == 1
	}, time.Second, 10*time.Millisecond)

	env, err := domain.NewEvent(domain.EventCardCreated, domain.Card{ID: "c1", Title: "ship it"})
	require.NoError(t, err)
	s.hub.Broadcast("b1", env)

	frame := readEvent(t, reader)
	assert.Contains(t, frame, `"card.created"`)
	assert.Contains(t, frame, `"ship it"`)
}

func TestStreamAuthViaQueryToken(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/boards/b1/stream?token=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStreamRejectsAnonymous(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/boards/b1/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStreamRejectsNonMembers(t *testing.T) {
	s := newTestServer(t)
	s.reader.member = false
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	resp, reader := dialStream(t, srv.URL, "b1")
	_ = reader
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStreamLeavesGroupOnDisconnect(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	resp, _ := dialStream(t, srv.URL, "b1")
	require.Eventually(t, func() bool {
		return s.hub.GroupSize("b1") == 1
	}, time.Second, 10*time.Millisecond)

	resp.Body.Close()
	require.Eventually(t, func() bool {
		return s.hub.GroupSize("b1") == 0
	}, 2*time.Second, 10*time.Millisecond, "disconnect must leave the board group")
}
