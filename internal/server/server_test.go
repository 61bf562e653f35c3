package server

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaynode/relaynode/pkg/config"
	"github.com/relaynode/relaynode/pkg/engine/enginetest"
	"github.com/relaynode/relaynode/pkg/maintenance"
	"github.com/relaynode/relaynode/pkg/tlsutil"
	"github.com/relaynode/relaynode/pkg/updater"
)

type testNode struct {
	srv    *Server
	engine *enginetest.Fake
	https  *httptest.Server
	client *http.Client
	tls    *tls.Config
}

func certPair(t *testing.T, dir, name string) (string, string) {
	t.Helper()
	cert, key := filepath.Join(dir, name+"_cert.pem"), filepath.Join(dir, name+"_key.pem")
	_, err := tlsutil.EnsureCertificate(cert, key)
	require.NoError(t, err)
	return cert, key
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	dir := t.TempDir()
	nodeCert, nodeKey := certPair(t, dir, "node")
	ctlCert, ctlKey := certPair(t, dir, "controller")

	cfg := &config.Config{
		NodeVersion:  "0.3.0",
		StateDir:     dir,
		CertFile:     nodeCert,
		KeyFile:      nodeKey,
		ClientCAFile: ctlCert,
	}
	e := enginetest.New("1.8.4")
	srv, err := New(cfg, Dependencies{
		Engine:      e,
		Installer:   updater.New(e, updater.Options{InstallDir: filepath.Join(dir, "xray-core"), AssetsDir: filepath.Join(dir, "assets")}),
		Maintenance: maintenance.NewClient(""),
	})
	require.NoError(t, err)

	serverTLS, err := srv.TLSConfig()
	require.NoError(t, err)
	https := httptest.NewUnstartedServer(srv)
	https.TLS = serverTLS
	https.StartTLS()
	t.Cleanup(https.Close)

	clientTLS, err := tlsutil.ClientConfig(ctlCert, ctlKey, nodeCert)
	require.NoError(t, err)

	return &testNode{
		srv:    srv,
		engine: e,
		https:  https,
		client: &http.Client{Transport: &http.Transport{TLSClientConfig: clientTLS}, Timeout: 5 * time.Second},
		tls:    clientTLS,
	}
}

func (n *testNode) post(t *testing.T, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := n.client.Post(n.https.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(&config.Config{}, Dependencies{})
	assert.Error(t, err)
}

func TestSessionFlowOverMutualTLS(t *testing.T) {
	n := newTestNode(t)

	code, status := n.post(t, "/", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, status["connected"])
	assert.Equal(t, "1.8.4", status["core_version"])
	assert.Equal(t, "0.3.0", status["node_version"])

	code, status = n.post(t, "/connect", "")
	require.Equal(t, http.StatusOK, code)
	token, _ := status["session_id"].(string)
	require.NotEmpty(t, token)

	code, _ = n.post(t, "/ping", `{"session_id":"`+token+`"}`)
	assert.Equal(t, http.StatusOK, code)

	code, body := n.post(t, "/maintenance/restart", `{"session_id":"`+token+`"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "service_unavailable", body["type"])

	code, _ = n.post(t, "/update_history", `{"session_id":"`+token+`"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code, "no ledger configured")

	code, body = n.post(t, "/update_geo", `{"files":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "validation_error", body["type"])

	code, status = n.post(t, "/disconnect", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, status["connected"])
}

func TestRoutingErrors(t *testing.T) {
	n := newTestNode(t)

	resp, err := n.client.Get(n.https.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = n.client.Get(n.https.URL + "/connect")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthAndReadinessEndpoints(t *testing.T) {
	n := newTestNode(t)

	resp, err := n.client.Get(n.https.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"), "logger should add trace id header")

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "0.3.0", health["node_version"])

	ready, err := n.client.Get(n.https.URL + "/health/ready")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, ready.StatusCode, "fake engine has no executable on disk")
}

func TestPlainRequestsAreRejected(t *testing.T) {
	n := newTestNode(t)

	req := httptest.NewRequest(http.MethodPost, "/connect", nil)
	rr := httptest.NewRecorder()
	n.srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.False(t, n.srv.sessions.Connected())
}

func TestUntrustedClientCannotConnect(t *testing.T) {
	n := newTestNode(t)
	dir := t.TempDir()
	strangerCert, strangerKey := certPair(t, dir, "stranger")
	nodeCert := n.srv.config.CertFile

	cfg, err := tlsutil.ClientConfig(strangerCert, strangerKey, nodeCert)
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}, Timeout: 5 * time.Second}

	resp, err := client.Post(n.https.URL+"/connect", "application/json", nil)
	if err == nil {
		resp.Body.Close()
	}
	assert.Error(t, err)
	assert.False(t, n.srv.sessions.Connected())
}

func TestLogStream(t *testing.T) {
	n := newTestNode(t)
	_, status := n.post(t, "/connect", "")
	token := status["session_id"].(string)

	dialer := websocket.Dialer{TLSClientConfig: n.tls, HandshakeTimeout: 5 * time.Second}
	url := "wss" + strings.TrimPrefix(n.https.URL, "https") + "/logs?session_id=" + token
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, n.engine.Logs().Attached, 2*time.Second, 5*time.Millisecond)
	n.engine.Logs().Push("accepted tcp:1.2.3.4:443")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "accepted tcp:1.2.3.4:443", string(data))
}

func TestCleanupStopsCore(t *testing.T) {
	n := newTestNode(t)
	n.post(t, "/connect", "")
	n.engine.SetStarted(true)

	require.NoError(t, n.srv.Cleanup())
	assert.False(t, n.engine.Started())
	assert.False(t, n.srv.sessions.Connected())
}
