package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reply(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}
}

func serve(r *Router, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestDispatch(t *testing.T) {
	r := NewRouter()
	r.Post("/connect", reply("connect"))
	r.Post("/update_core", reply("core"))
	r.Get("/health", reply("health"))
	r.Register("post", "/maintenance/restart", reply("restart"))

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/connect", "connect"},
		{http.MethodPost, "/update_core", "core"},
		{http.MethodGet, "/health", "health"},
		{http.MethodPost, "/maintenance/restart", "restart"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := serve(r, tt.method, tt.path)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.body, rr.Body.String())
		})
	}
}

func TestRegisterReplaces(t *testing.T) {
	r := NewRouter()
	r.Post("/ping", reply("old"))
	r.Post("/ping", reply("new"))
	assert.Equal(t, "new", serve(r, http.MethodPost, "/ping").Body.String())
}

func TestPathsMatchExactly(t *testing.T) {
	r := NewRouter()
	r.Post("/start", reply("start"))

	for _, path := range []string{"/start/", "/starts", "/START", "/"} {
		assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, path).Code, path)
	}
}

func TestNotFound(t *testing.T) {
	r := NewRouter()
	rr := serve(r, http.MethodPost, "/update_geo")

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["type"])
}

func TestMethodNotAllowed(t *testing.T) {
	r := NewRouter()
	r.Post("/", reply("base"))
	r.Get("/", reply("base"))

	rr := serve(r, http.MethodDelete, "/")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "GET, POST", rr.Header().Get("Allow"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "method_not_allowed", body["type"])
}

func TestMatch(t *testing.T) {
	r := NewRouter()
	r.Get("/logs", reply("logs"))

	h, known := r.Match("get", "/logs")
	assert.NotNil(t, h)
	assert.True(t, known)

	h, known = r.Match(http.MethodPost, "/logs")
	assert.Nil(t, h)
	assert.True(t, known)

	h, known = r.Match(http.MethodGet, "/missing")
	assert.Nil(t, h)
	assert.False(t, known)

	assert.Empty(t, r.Allowed("/missing"))
}
