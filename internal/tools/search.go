package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chris/scout/internal/llm"
	"github.com/chris/scout/internal/search"
)

const (
	SearchToolName = "search"

	// maxExcerptLen bounds each excerpt so a single search cannot flood the
	// model's context.
	maxExcerptLen = 1200
)

var errEmptyQuery = errors.New("query is required")

// SearchInput is the argument shape of the search tool.
type SearchInput struct {
	Query      string `json:"query" jsonschema_description:"What to search for. Short and specific works best."`
	MaxResults int    `json:"max_results,omitempty" jsonschema_description:"Optional number of results to return, capped by the server setting."`
}

// SearchSpec describes the web search tool to the model.
var SearchSpec = llm.Tool{
	Name:        SearchToolName,
	Description: "Search the web for current information. Returns a JSON array of results, each with the source url and a content excerpt.",
	Parameters:  generateSchema[SearchInput](),
}

// SearchHandler returns a Handler that runs queries against provider,
// returning at most maxResults hits per call.
func SearchHandler(provider search.Provider, maxResults int) Handler {
	if maxResults <= 0 {
		maxResults = 2
	}
	return func(ctx context.Context, params map[string]any) (string, error) {
		query, _ := getString(params, "query")
		query = strings.TrimSpace(query)
		if query == "" {
			return "", errEmptyQuery
		}
		limit := maxResults
		if n, ok := getInt(params, "max_results"); ok && n > 0 && int(n) < limit {
			limit = int(n)
		}

		results, err := provider.Search(ctx, query, limit)
		if err != nil {
			return "", err
		}
		if len(results) > limit {
			results = results[:limit]
		}

		out := make([]search.Result, len(results))
		for i, r := range results {
			out[i] = search.Result{URL: r.URL, Content: truncate(r.Content, maxExcerptLen)}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return "", fmt.Errorf("encoding results: %w", err)
		}
		return string(b), nil
	}
}

// NewSearchRegistry returns a registry holding only the search tool.
func NewSearchRegistry(provider search.Provider, maxResults int) *Registry {
	r := NewRegistry()
	r.Register(SearchSpec, SearchHandler(provider, maxResults))
	return r
}
