package emergency

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RealtimeDB pushes records to a Realtime Database over its REST API. A
// POST to {base}/{collection}.json appends a child and answers with
// {"name": key}.
type RealtimeDB struct {
	base   string
	auth   string
	client *http.Client
}

// NewRealtimeDB creates a sink for the database at baseURL. auth is an
// optional database secret or ID token.
func NewRealtimeDB(baseURL, auth string) *RealtimeDB {
	return &RealtimeDB{
		base:   strings.TrimRight(baseURL, "/"),
		auth:   auth,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *RealtimeDB) Push(ctx context.Context, r Record) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}

	endpoint := d.base + "/" + Collection + ".json"
	if d.auth != "" {
		endpoint += "?auth=" + url.QueryEscape(d.auth)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("push %s: %d %s", Collection, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("push %s: decoding response: %w", Collection, err)
	}
	if out.Name == "" {
		return "", fmt.Errorf("push %s: response carried no key", Collection)
	}
	return out.Name, nil
}
