package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second

var ErrUnauthorized = errors.New("engine api: unauthorized")

// Client talks to the engine's local API with a bouncer or machine key.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("engine api url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("engine api url %q must include scheme and host", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type Decision struct {
	ID       int64  `json:"id"`
	Origin   string `json:"origin"`
	Type     string `json:"type"`
	Scope    string `json:"scope"`
	Value    string `json:"value"`
	Duration string `json:"duration"`
	Scenario string `json:"scenario"`
}

type Source struct {
	IP    string `json:"ip"`
	Value string `json:"value"`
	Scope string `json:"scope"`
	CN    string `json:"cn"`
	AS    string `json:"as_name"`
}

type Alert struct {
	ID          int64      `json:"id"`
	Scenario    string     `json:"scenario"`
	Message     string     `json:"message"`
	EventsCount int        `json:"events_count"`
	CreatedAt   string     `json:"created_at"`
	StartAt     string     `json:"start_at"`
	Source      Source     `json:"source"`
	Decisions   []Decision `json:"decisions"`
}

type Bouncer struct {
	Name      string `json:"name"`
	IPAddress string `json:"ip_address"`
	Type      string `json:"type"`
	Version   string `json:"version"`
	LastPull  string `json:"last_pull"`
	Revoked   bool   `json:"revoked"`
}

type Version struct {
	Version string `json:"version"`
}

type DecisionFilter struct {
	IP       string
	Scope    string
	Scenario string
}

func (c *Client) Decisions(ctx context.Context, f DecisionFilter) ([]Decision, error) {
	q := url.Values{}
	if f.IP != "" {
		q.Set("ip", f.IP)
	}
	if f.Scope != "" {
		q.Set("scope", f.Scope)
	}
	if f.Scenario != "" {
		q.Set("scenarios_containing", f.Scenario)
	}
	var out []Decision
	if err := c.do(ctx, http.MethodGet, "/v1/decisions", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddDecisions(ctx context.Context, alerts []Alert) error {
	return c.do(ctx, http.MethodPost, "/v1/alerts", nil, alerts, nil)
}

func (c *Client) DeleteDecisions(ctx context.Context, ip string) error {
	q := url.Values{}
	if ip != "" {
		q.Set("ip", ip)
	}
	return c.do(ctx, http.MethodDelete, "/v1/decisions", q, nil, nil)
}

// Alerts lists recent alerts, newest first as returned by the engine.
func (c *Client) Alerts(ctx context.Context, since time.Duration, limit int) ([]Alert, error) {
	q := url.Values{}
	if since > 0 {
		q.Set("since", since.String())
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Alert
	if err := c.do(ctx, http.MethodGet, "/v1/alerts", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Bouncers(ctx context.Context) ([]Bouncer, error) {
	var out []Bouncer
	if err := c.do(ctx, http.MethodGet, "/v1/bouncers", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Metrics returns the raw metrics payload; its shape varies by engine version.
func (c *Client) Metrics(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/metrics", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Version(ctx context.Context) (Version, error) {
	var out Version
	if err := c.do(ctx, http.MethodGet, "/v1/version", nil, nil, &out); err != nil {
		return Version{}, err
	}
	return out, nil
}

func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/heartbeat", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	// The engine answers "null" for empty lists.
	if len(strings.TrimSpace(string(data))) == 0 || strings.TrimSpace(string(data)) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
