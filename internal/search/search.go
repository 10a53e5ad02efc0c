package search

import "context"

// Result is one search hit: where it came from and the relevant excerpt.
type Result struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Provider runs a free-text query and returns at most maxResults hits in
// ranking order.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}
