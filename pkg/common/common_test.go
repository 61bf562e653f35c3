package common

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONResponse(t *testing.T) {
	t.Run("successful JSON response", func(t *testing.T) {
		data := map[string]any{
			"connected": true,
		}

		w := httptest.NewRecorder()
		WriteJSONResponse(w, http.StatusAccepted, data)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, true, response["connected"])
	})

	t.Run("JSON encoding error with invalid data", func(t *testing.T) {
		invalidData := map[string]any{
			"channel": make(chan int),
		}

		w := httptest.NewRecorder()
		WriteJSONResponse(w, http.StatusOK, invalidData)

		assert.Contains(t, w.Body.String(), "json: unsupported type")
	})
}

func TestWriteSuccessResponse(t *testing.T) {
	type sample struct {
		Version string `json:"version"`
	}

	t.Run("writes struct payload", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteSuccessResponse(w, sample{Version: "1.8.4"})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response sample
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "1.8.4", response.Version)
	})

	t.Run("writes empty object", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteSuccessResponse(w, Empty{})
		assert.Equal(t, "{}\n", w.Body.String())
	})
}

func TestParseJSONBodyReturn(t *testing.T) {
	type testStruct struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	decodeDetail := func(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
		t.Helper()
		var response struct {
			Type   string            `json:"type"`
			Detail map[string]string `json:"detail"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "validation_error", response.Type)
		return response.Detail
	}

	t.Run("parse valid JSON body", func(t *testing.T) {
		data := testStruct{Name: "test", Value: 42}
		jsonData, err := json.Marshal(data)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewReader(jsonData))
		w := httptest.NewRecorder()

		var result testStruct
		err = ParseJSONBodyReturn(w, req, &result)

		assert.NoError(t, err)
		assert.Equal(t, "test", result.Name)
		assert.Equal(t, 42, result.Value)
	})

	t.Run("unknown fields are ignored", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"name": "test", "extra": "field"}`))
		w := httptest.NewRecorder()

		var result testStruct
		assert.NoError(t, ParseJSONBodyReturn(w, req, &result))
		assert.Equal(t, "test", result.Name)
	})

	t.Run("parse invalid JSON body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"name": "test", "value": }`))
		w := httptest.NewRecorder()

		var result testStruct
		err := ParseJSONBodyReturn(w, req, &result)

		assert.Error(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, decodeDetail(t, w)["body"], "Invalid JSON body")
	})

	t.Run("parse empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(""))
		w := httptest.NewRecorder()

		var result testStruct
		err := ParseJSONBodyReturn(w, req, &result)

		assert.Error(t, err)
		assert.Equal(t, "field required", decodeDetail(t, w)["body"])
	})

	t.Run("parse JSON with wrong types", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"name": "test", "value": "not a number"}`))
		w := httptest.NewRecorder()

		var result testStruct
		err := ParseJSONBodyReturn(w, req, &result)

		assert.Error(t, err)
		assert.Equal(t, "invalid type, expected int", decodeDetail(t, w)["value"])
	})
}

func TestParseSessionID(t *testing.T) {
	valid := "6f1c7a52-3f1e-4d8e-9d52-1b7b3c2a9e10"
	invalid := "not-a-uuid"

	token, apiErr := ParseSessionID(&valid)
	require.Nil(t, apiErr)
	assert.Equal(t, valid, token.String())

	_, apiErr = ParseSessionID(nil)
	require.NotNil(t, apiErr)
	assert.Equal(t, map[string]string{"session_id": "field required"}, apiErr.Detail)

	_, apiErr = ParseSessionID(&invalid)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Code)
	assert.Equal(t, map[string]string{"session_id": "value is not a valid uuid"}, apiErr.Detail)
}
