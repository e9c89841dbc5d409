// Package ingest is the REST side of the monitoring service: periodic fix
// delivery, push token registration and safety score lookups.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NagendraKandula/beacon/internal/geo"
)

const (
	LocationPath  = "/api/gps"
	ScorePath     = "/calculate_score"
	PushTokenPath = "/save_push_token"
)

// Report is one background fix as posted to LocationPath.
type Report struct {
	TouristID string  `json:"tourist_id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp string  `json:"timestamp"`
}

// NewReport tags a sample with the session id.
func NewReport(s geo.Sample, sessionID string) Report {
	return Report{
		TouristID: sessionID,
		Lat:       s.Lat,
		Lon:       s.Lon,
		Timestamp: geo.Timestamp(s.CapturedAt),
	}
}

// LocationResponse is the service's reply to a fix. Anomalies is empty for
// an unremarkable fix.
type LocationResponse struct {
	Status    string   `json:"status,omitempty"`
	Anomalies []string `json:"anomalies,omitempty"`
}

// Score is the safety rating of a position.
type Score struct {
	Score    float64  `json:"score"`
	Level    string   `json:"level"`
	Reasons  []string `json:"reasons,omitempty"`
	District string   `json:"district,omitempty"`
}

type scoreRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type pushTokenRequest struct {
	TouristID string `json:"tourist_id"`
	Token     string `json:"token"`
}

// Client makes REST calls to the monitoring service.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a client targeting the given base URL (e.g.
// "http://127.0.0.1:8000"). A bare host is treated as http.
func NewClient(baseURL, token string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL != "" && !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// BaseURL returns the normalised service URL.
func (c *Client) BaseURL() string { return c.baseURL }

// PostLocation sends POST /api/gps.
func (c *Client) PostLocation(ctx context.Context, r Report) (*LocationResponse, error) {
	var out LocationResponse
	if err := c.post(ctx, LocationPath, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LookupDestinationScore sends POST /calculate_score for a position.
func (c *Client) LookupDestinationScore(ctx context.Context, lat, lon float64) (*Score, error) {
	var out Score
	if err := c.post(ctx, ScorePath, scoreRequest{Latitude: lat, Longitude: lon}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SavePushToken sends POST /save_push_token so the service can reach this
// device for the given session.
func (c *Client) SavePushToken(ctx context.Context, touristID, token string) error {
	return c.post(ctx, PushTokenPath, pushTokenRequest{TouristID: touristID, Token: token}, nil)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("POST %s: %d %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("POST %s: decoding response: %w", path, err)
		}
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
