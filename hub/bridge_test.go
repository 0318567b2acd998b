package hub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/Soham-047/trello-mini/domain"
)

func newBridgedHub(t *testing.T, ctx context.Context, mr *miniredis.Miniredis) *Hub {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := New(nil, 4)
	b := NewBridge(client, h, nil)
	go func() { _ = b.Run(ctx) }()

	select {
	case <-b.Ready():
	case <-time.After(time.Second):
		t.Fatal("bridge subscription never arrived")
	}
	return h
}

func TestBridgeReplicatesAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := newBridgedHub(t, ctx, mr)
	remote := newBridgedHub(t, ctx, mr)

	conn := remote.NewConn()
	remote.Join("board-1", conn)

	local.Broadcast("board-1", domain.Envelope{Type: domain.EventCardMoved})

	select {
	case env := <-conn.Events():
		assert.Equal(t, domain.EventCardMoved, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("event never crossed the bridge")
	}
}

func TestBridgeSuppressesOwnEcho(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := newBridgedHub(t, ctx, mr)

	conn := local.NewConn()
	local.Join("board-1", conn)

	local.Broadcast("board-1", domain.Envelope{Type: domain.EventListCreated})

	select {
	case <-conn.Events():
	case <-time.After(time.Second):
		t.Fatal("local delivery missing")
	}

	// The published copy must not come back around as a duplicate.
	select {
	case env := <-conn.Events():
		t.Fatalf("duplicate delivery of %q via the bridge", env.Type)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBridgeRelayKeepsEphemeralFlag(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := newBridgedHub(t, ctx, mr)
	remote := newBridgedHub(t, ctx, mr)

	conn := remote.NewConn()
	remote.Join("board-1", conn)

	local.Relay("board-1", domain.Envelope{Type: domain.EventPresencePing})

	select {
	case env := <-conn.Events():
		assert.Equal(t, domain.EventPresencePing, env.Type)
		assert.True(t, env.Ephemeral)
	case <-time.After(2 * time.Second):
		t.Fatal("presence never crossed the bridge")
	}
}
