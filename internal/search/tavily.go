package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const tavilyAPI = "https://api.tavily.com/search"

var ErrMissingAPIKey = errors.New("tavily: API key is required")

type TavilyClient struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

func NewTavilyClient(apiKey string) *TavilyClient {
	return &TavilyClient{
		apiKey:   apiKey,
		endpoint: tavilyAPI,
		http:     &http.Client{Timeout: 20 * time.Second},
	}
}

// WithEndpoint points the client at another base URL, e.g. a test server.
func (c *TavilyClient) WithEndpoint(url string) *TavilyClient {
	c.endpoint = url
	return c
}

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if maxResults <= 0 {
		maxResults = 2
	}

	body, err := json.Marshal(tavilyRequest{Query: query, MaxResults: maxResults, SearchDepth: "basic"})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "scout/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(respBody, "detail.error").String()
		if msg == "" {
			msg = string(respBody)
		}
		return nil, fmt.Errorf("tavily search: %s: %s", resp.Status, msg)
	}

	if !gjson.ValidBytes(respBody) {
		return nil, fmt.Errorf("tavily search: response is not valid JSON")
	}

	var results []Result
	gjson.GetBytes(respBody, "results").ForEach(func(_, r gjson.Result) bool {
		results = append(results, Result{
			Title:   r.Get("title").String(),
			URL:     r.Get("url").String(),
			Content: r.Get("content").String(),
		})
		return len(results) < maxResults
	})
	return results, nil
}
