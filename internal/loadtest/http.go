package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Submission retry constants.
const (
	maxConflictRetries = 5
	conflictBackoff    = 50 * time.Millisecond
)

// HTTPClient wraps http.Client with timeout.
type HTTPClient struct {
	client *http.Client
}

// newHTTPClient creates a new HTTP client with timeout.
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with JSON body.
func (c *HTTPClient) Post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// getJSON performs a GET and decodes the JSON response body into v.
func (c *HTTPClient) getJSON(ctx context.Context, url string, v interface{}) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, v)
}

// submitActions submits actions concurrently using a worker pool. Conflicts
// (409) are retried with the same idempotency key, matching the protocol.
func submitActions(ctx context.Context, config *Config, actions []Action, stats *Stats) error {
	log.Printf("submitting %d actions with %d workers...", len(actions), config.Workers)

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/actions"

	var (
		committed  int64
		duplicate  int64
		conflicted int64
		failed     int64
		submitted  int64
	)

	actionChan := make(chan Action, config.Workers*2)
	var wg sync.WaitGroup

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for action := range actionChan {
				select {
				case <-ctx.Done():
					return
				default:
				}
				result := submitSingleAction(ctx, client, url, action)
				atomic.AddInt64(&submitted, 1)
				switch result {
				case "committed":
					atomic.AddInt64(&committed, 1)
				case "duplicate":
					atomic.AddInt64(&duplicate, 1)
				case "conflict":
					atomic.AddInt64(&conflicted, 1)
				default:
					atomic.AddInt64(&failed, 1)
				}
			}
		}()
	}

	go func() {
		defer close(actionChan)
		for _, action := range actions {
			select {
			case <-ctx.Done():
				return
			case actionChan <- action:
			}
		}
	}()

	wg.Wait()

	stats.ActionsSubmitted = int(atomic.LoadInt64(&submitted))
	stats.ActionsCommitted = int(atomic.LoadInt64(&committed))
	stats.ActionsDuplicate = int(atomic.LoadInt64(&duplicate))
	stats.ActionsConflicted = int(atomic.LoadInt64(&conflicted))
	stats.ActionsFailed = int(atomic.LoadInt64(&failed))

	log.Printf("submission done: committed=%d duplicate=%d conflict_exhausted=%d failed=%d",
		stats.ActionsCommitted, stats.ActionsDuplicate, stats.ActionsConflicted, stats.ActionsFailed)
	return nil
}

// submitSingleAction submits one action, retrying conflicts, and returns the
// terminal result.
func submitSingleAction(ctx context.Context, client *HTTPClient, url string, action Action) string {
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		resp, err := client.Post(ctx, url, action)
		if err != nil {
			return "failed"
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "failed"
		}

		switch resp.StatusCode {
		case http.StatusOK:
			var ack AckResponse
			if err := json.Unmarshal(body, &ack); err == nil && ack.Duplicate {
				return "duplicate"
			}
			return "committed"
		case http.StatusConflict:
			// Same key on retry; the server resolves it as a duplicate if
			// the earlier attempt actually committed.
			select {
			case <-ctx.Done():
				return "conflict"
			case <-time.After(conflictBackoff):
			}
			continue
		default:
			return "failed"
		}
	}
	return "conflict"
}
