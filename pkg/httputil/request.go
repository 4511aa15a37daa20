package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/pinaka/pkg/apperr"
)

// ParseJSON decodes the request body into dest. Failures are
// ValidationErrors on the "body" field.
func ParseJSON(r *http.Request, dest interface{}) error {
	err := json.NewDecoder(r.Body).Decode(dest)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return apperr.Validation("body", "is empty")
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("body", "exceeds %d bytes", tooLarge.Limit)
		}
		return apperr.Validation("body", "invalid JSON: %v", err)
	}
}

// ParseJSONOrError decodes JSON and writes a 400 on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteAppError(w, err)
		return false
	}
	return true
}

// ParsePathString returns a required route variable
func ParsePathString(r *http.Request, key string) (string, error) {
	val := mux.Vars(r)[key]
	if val == "" {
		return "", apperr.Validation(key, "missing path parameter")
	}
	return val, nil
}

// ParsePathStringOrError returns a route variable and writes a 400 when absent
func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val, err := ParsePathString(r, key)
	if err != nil {
		WriteAppError(w, err)
		return "", false
	}
	return val, true
}

// ParseQueryInt parses an optional integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation(key, "invalid integer %q", raw)
	}
	return val, nil
}

// ParseQueryString returns a query parameter or defaultVal
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	if val := r.URL.Query().Get(key); val != "" {
		return val
	}
	return defaultVal
}

// ParseQueryTime parses an optional RFC 3339 query parameter
func ParseQueryTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	val, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperr.Validation(key, "invalid timestamp %q", raw)
	}
	return &val, nil
}
