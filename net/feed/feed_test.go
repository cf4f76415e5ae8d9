package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamer/datamodel/peer"
	"teamer/swarm/registry"
)

func testRegistry() *registry.Registry {
	r := registry.New()
	r.Upsert(peer.NewAddress("alice-pc", 55555), peer.State{Name: "Alice", X: 1, Y: 2, Token: "FFA", Mass: 500}, time.Now())
	r.AddPersistent(peer.NewAddress("bob-pc", 55555))
	return r
}

func getJSON(t *testing.T, url string) []PeerView {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var views []PeerView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&views))
	return views
}

func TestPeers(t *testing.T) {
	srv := httptest.NewServer(New(testRegistry(), time.Second).Handler())
	defer srv.Close()

	views := getJSON(t, srv.URL+"/peers")
	require.Len(t, views, 2)
	assert.Equal(t, "alice-pc:55555", views[0].Address)
	assert.True(t, views[0].Online)
	require.NotNil(t, views[0].State)
	assert.Equal(t, "Alice", views[0].State.Name)
	assert.True(t, views[0].FreeForAll)

	assert.Equal(t, "bob-pc:55555", views[1].Address)
	assert.True(t, views[1].Persistent)
	assert.Nil(t, views[1].State)
	assert.Nil(t, views[1].LastSeen)

	online := getJSON(t, srv.URL+"/peers/online")
	require.Len(t, online, 1)
	assert.Equal(t, "alice-pc:55555", online[0].Address)
}

func TestWebSocketPushesSnapshots(t *testing.T) {
	reg := testRegistry()
	srv := httptest.NewServer(New(reg, 20*time.Millisecond).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var views []PeerView
	require.NoError(t, conn.ReadJSON(&views))
	assert.Len(t, views, 2)

	reg.Remove(peer.NewAddress("bob-pc", 55555))

	require.Eventually(t, func() bool {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		if err := conn.ReadJSON(&views); err != nil {
			return false
		}
		return len(views) == 1
	}, 2*time.Second, time.Millisecond)
}

func TestWebSocketClosedOnShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- New(testRegistry(), 20*time.Millisecond).ServeListener(ctx, l) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+l.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var views []PeerView
	require.NoError(t, conn.ReadJSON(&views))

	cancel()
	require.NoError(t, <-done)

	// The push loop stops and the server side closes the socket
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if err := conn.ReadJSON(&views); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				t.Fatal("websocket still open after shutdown")
			}
			return
		}
	}
}
