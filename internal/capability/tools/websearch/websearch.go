// Package websearch provides the "web_search_tool" capability backed by the
// Tavily search API.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/arbiter/internal/capability"
)

// Name is the capability name.
const Name = "web_search_tool"

// DefaultBaseURL is the Tavily API root.
const DefaultBaseURL = "https://api.tavily.com"

const (
	searchDepth   = "advanced"
	includeAnswer = "advanced"
	maxResults    = 6
	snippetLimit  = 600
)

// Result is one search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response is the decoded Tavily answer.
type Response struct {
	Answer  string   `json:"answer"`
	Results []Result `json:"results"`
}

// Client queries Tavily.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL overrides [DefaultBaseURL].
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("websearch: api key must not be empty")
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type args struct {
	Query     string `json:"query" jsonschema:"description=Search query with all parameters confirmed"`
	Topic     string `json:"topic" jsonschema:"description=Search category,enum=general,enum=news,enum=finance"`
	TimeRange string `json:"time_range" jsonschema:"description=How far back results may reach,enum=day,enum=week,enum=month,enum=year"`
}

// Capability returns the web_search_tool capability using c.
func (c *Client) Capability(opts ...capability.Option) capability.Capability {
	return capability.New(Name,
		"Searches the web for recent, dynamic or otherwise unverifiable information. Establish the current date first for time-dependent queries.",
		func(ctx context.Context, a args) (string, error) {
			resp, err := c.Search(ctx, a.Query, a.Topic, a.TimeRange)
			if err != nil {
				return "", err
			}
			return FormatResponse(resp), nil
		}, opts...)
}

type searchRequest struct {
	Query         string `json:"query"`
	Topic         string `json:"topic"`
	TimeRange     string `json:"time_range"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer string `json:"include_answer"`
}

// Search runs one query. Query, topic and time range are lower-cased.
func (c *Client) Search(ctx context.Context, query, topic, timeRange string) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("websearch: empty query: %w", capability.ErrInvalidArguments)
	}

	payload, err := json.Marshal(searchRequest{
		Query:         strings.ToLower(query),
		Topic:         strings.ToLower(topic),
		TimeRange:     strings.ToLower(timeRange),
		SearchDepth:   searchDepth,
		MaxResults:    maxResults,
		IncludeAnswer: includeAnswer,
	})
	if err != nil {
		return nil, fmt.Errorf("websearch: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("websearch: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("websearch: decode response: %w", err)
	}
	return &out, nil
}

// FormatResponse renders the answer and results as plain text.
func FormatResponse(r *Response) string {
	if r == nil || (r.Answer == "" && len(r.Results) == 0) {
		return "No results found."
	}
	var b strings.Builder
	if r.Answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n", strings.TrimSpace(r.Answer))
	}
	for i, res := range r.Results {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s\n   %s", i+1, res.Title, res.URL)
		if snippet := truncate(strings.TrimSpace(res.Content), snippetLimit); snippet != "" {
			fmt.Fprintf(&b, "\n   %s", snippet)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
