package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/pinaka/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{name: "valid JSON", body: `{"name": "test"}`},
		{name: "invalid JSON", body: `{invalid}`, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "test", dest["name"])
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString("nope"))
	var dest map[string]string

	assert.False(t, ParseJSONOrError(w, req, &dest))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/verifications/abc", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "abc"})

	val, err := ParsePathString(req, "id")
	require.NoError(t, err)
	assert.Equal(t, "abc", val)

	w := httptest.NewRecorder()
	_, ok := ParsePathStringOrError(w, req, "missing")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/v?limit=5&status=PENDING&due=2026-01-02T03:04:05Z&bad=x", nil)

	limit, err := ParseQueryInt(req, "limit", 20)
	require.NoError(t, err)
	assert.Equal(t, 5, limit)

	limit, err = ParseQueryInt(req, "offset", 20)
	require.NoError(t, err)
	assert.Equal(t, 20, limit)

	_, err = ParseQueryInt(req, "bad", 0)
	assert.Error(t, err)

	assert.Equal(t, "PENDING", ParseQueryString(req, "status", ""))
	assert.Equal(t, "x", ParseQueryString(req, "missing", "x"))

	due, err := ParseQueryTime(req, "due")
	require.NoError(t, err)
	require.NotNil(t, due)
	assert.Equal(t, 2026, due.Year())

	none, err := ParseQueryTime(req, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = ParseQueryTime(req, "bad")
	assert.Error(t, err)
}

func TestParseJSON_ValidationErrors(t *testing.T) {
	var dest map[string]string

	err := ParseJSON(httptest.NewRequest("POST", "/test", bytes.NewBufferString("")), &dest)
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "body", verr.Field)
	assert.Contains(t, verr.Message, "empty")

	w := httptest.NewRecorder()
	limited := httptest.NewRequest("POST", "/test", bytes.NewBufferString(`{"name":"far too long"}`))
	limited.Body = http.MaxBytesReader(w, limited.Body, 4)
	err = ParseJSON(limited, &dest)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "exceeds 4 bytes")
}

func TestParseQueryInt_NamesField(t *testing.T) {
	req := httptest.NewRequest("GET", "/v?limit=ten", nil)

	_, err := ParseQueryInt(req, "limit", 0)
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "limit", verr.Field)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
