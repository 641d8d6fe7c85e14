// Package sources holds the pieces shared by the observability collectors.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentmon/internal/monitor"
	logx "agentmon/pkg/logx"
)

// DefaultHTTPTimeout bounds a single query when the caller's context has no deadline.
const DefaultHTTPTimeout = 30 * time.Second

// Client performs GET requests that return JSON.
type Client struct {
	HTTP    *http.Client
	BaseURL string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &Client{HTTP: &http.Client{Timeout: timeout}, BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// GetJSON requests BaseURL+path with params and decodes the body into out.
// Non-2xx statuses are errors carrying a snippet of the body.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Configured returns the sources that are configured, in order, and logs the rest.
func Configured(log logx.Logger, all ...monitor.Source) []monitor.Source {
	out := make([]monitor.Source, 0, len(all))
	for _, s := range all {
		if s == nil {
			continue
		}
		if !s.Configured() {
			log.Info("source disabled", logx.String("source", s.Name()))
			continue
		}
		out = append(out, s)
	}
	return out
}

// Query is a labelled query string.
type Query struct {
	Label string
	Expr  string
}
