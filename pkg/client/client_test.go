package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaynode/relaynode/pkg/engine/enginetest"
	"github.com/relaynode/relaynode/pkg/errors"
	"github.com/relaynode/relaynode/pkg/handlers/logs"
	"github.com/relaynode/relaynode/pkg/handlers/node"
	"github.com/relaynode/relaynode/pkg/lifecycle"
	"github.com/relaynode/relaynode/pkg/router"
	"github.com/relaynode/relaynode/pkg/session"
)

type testNode struct {
	engine   *enginetest.Fake
	sessions *session.Manager
	client   *Client
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	e := enginetest.New("1.8.4")
	sessions := session.NewManager(e)
	nodeHandler := node.NewNodeHandler(e, sessions, lifecycle.New(e, sessions), nil, "0.3.0")
	logsHandler := logs.NewLogsHandler(e.Logs(), sessions, nil)

	r := router.NewRouter()
	r.Post("/", nodeHandler.Base)
	r.Post("/connect", nodeHandler.Connect)
	r.Post("/disconnect", nodeHandler.Disconnect)
	r.Post("/ping", nodeHandler.Ping)
	r.Post("/stop", nodeHandler.Stop)
	r.Post("/update_history", nodeHandler.UpdateHistory)
	r.Get("/logs", logsHandler.Stream)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testNode{engine: e, sessions: sessions, client: New(srv.URL, nil)}
}

func TestSessionCalls(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	status, err := n.client.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Equal(t, "1.8.4", status.CoreVersion)

	status, err = n.client.Connect(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, status.SessionID)
	token := status.SessionID

	require.NoError(t, n.client.Ping(ctx, token))

	status, err = n.client.Stop(ctx, token)
	require.NoError(t, err)
	assert.False(t, status.Started)

	status, err = n.client.Disconnect(ctx)
	require.NoError(t, err)
	assert.False(t, status.Connected)
}

func TestAPIErrorsKeepStatus(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	err := n.client.Ping(ctx, "6f1c7a52-3f1e-4d8e-9d52-1b7b3c2a9e10")
	require.Error(t, err)
	apiErr := errors.From(err)
	assert.Equal(t, errors.ErrorTypeSessionMismatch, apiErr.Type)
	assert.Equal(t, http.StatusForbidden, apiErr.Code)

	status, err := n.client.Connect(ctx)
	require.NoError(t, err)
	_, err = n.client.UpdateHistory(ctx, status.SessionID, 5)
	assert.True(t, errors.IsType(err, errors.ErrorTypeServiceUnavailable))
}

func TestDecodeErrorFallsBackToText(t *testing.T) {
	apiErr := decodeError(http.StatusBadGateway, []byte("bad gateway\n"))
	assert.Equal(t, errors.ErrorTypeInternal, apiErr.Type)
	assert.Equal(t, "bad gateway", apiErr.Detail)
	assert.Equal(t, http.StatusBadGateway, apiErr.Code)
}

func TestTailLogs(t *testing.T) {
	n := newTestNode(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := n.client.Connect(ctx)
	require.NoError(t, err)

	n.engine.Logs().Push("loading config")

	lines := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- n.client.TailLogs(ctx, status.SessionID, LogOptions{Backlog: 1}, func(line string) error {
			lines <- line
			return nil
		})
	}()

	require.Eventually(t, n.engine.Logs().Attached, 2*time.Second, 5*time.Millisecond)
	n.engine.Logs().Push("Xray 1.8.4 started")
	for _, want := range []string{"loading config", "Xray 1.8.4 started"} {
		select {
		case line := <-lines:
			assert.Equal(t, want, line)
		case <-time.After(2 * time.Second):
			t.Fatal("no line received")
		}
	}

	// A takeover ends the stream cleanly.
	_, err = n.client.Connect(ctx)
	require.NoError(t, err)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after takeover")
	}
}

func TestTailLogsRefused(t *testing.T) {
	n := newTestNode(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := n.client.TailLogs(ctx, "not-a-token", LogOptions{}, func(string) error { return nil })
	var closed *StreamClosedError
	require.ErrorAs(t, err, &closed)
	assert.EqualValues(t, logs.CloseInvalidRequest, closed.Code)
}
