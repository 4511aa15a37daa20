package cli

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/platinummonkey/pinaka/pkg/httputil"
	"github.com/platinummonkey/pinaka/pkg/rbac"
)

// apiClient talks to a running pinaka server
type apiClient struct {
	server string
	userID string
	role   string
	http   *http.Client
}

// serverFlags are shared by commands that call the HTTP API
type serverFlags struct {
	server *string
	userID *string
	role   *string
}

func addServerFlags(fs *flag.FlagSet) serverFlags {
	server := os.Getenv("PINAKA_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	return serverFlags{
		server: fs.String("server", server, "Pinaka server URL"),
		userID: fs.String("user", os.Getenv("PINAKA_USER_ID"), "Acting user id"),
		role:   fs.String("role-header", os.Getenv("PINAKA_ROLE"), "Acting user role"),
	}
}

func (f serverFlags) client() *apiClient {
	return &apiClient{
		server: strings.TrimRight(*f.server, "/"),
		userID: *f.userID,
		role:   *f.role,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends body as JSON and decodes a 2xx response into out. Error
// responses are returned as errors carrying the server's message.
func (c *apiClient) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.server+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set(rbac.HeaderUserID, c.userID)
	}
	if c.role != "" {
		req.Header.Set(rbac.HeaderRole, c.role)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr httputil.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			return fmt.Errorf("server returned %s", resp.Status)
		}
		if apiErr.Kind != "" {
			return fmt.Errorf("%s (%s, %d)", apiErr.Error, apiErr.Kind, resp.StatusCode)
		}
		return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
