package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/switchboard/internal/events"
)

// Client is a small admin API client used by the CLI and the monitor.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

// Health fetches GET /healthz.
func (c *Client) Health(ctx context.Context) (HealthzResponse, error) {
	var out HealthzResponse
	err := c.getJSON(ctx, "/healthz", &out)
	return out, err
}

// Plugins fetches GET /admin/plugins.
func (c *Client) Plugins(ctx context.Context) (PluginListResponse, error) {
	var out PluginListResponse
	err := c.getJSON(ctx, "/admin/plugins", &out)
	return out, err
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, e.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}

// StreamActivity reads GET /admin/events and sends each activity to ch
// until ctx ends or the connection drops.
func (c *Client) StreamActivity(ctx context.Context, lastID int64, ch chan<- events.Activity) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/admin/events", nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET /admin/events: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /admin/events: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	var cur events.Activity
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Data != nil {
				cur.At = time.Now()
				select {
				case ch <- cur:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			cur = events.Activity{}
		case strings.HasPrefix(line, "id: "):
			cur.ID, _ = strconv.ParseInt(line[4:], 10, 64)
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			cur.Data = json.RawMessage(line[6:])
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
