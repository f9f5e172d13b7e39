package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	beacon "github.com/matthewjhunter/beacon"
)

// JSON-RPC 2.0 types

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// server is the Beacon MCP server.
type server struct {
	engine    *beacon.Engine
	refresher *refresher // non-nil when --refresh is enabled
}

func newServer(engine *beacon.Engine) *server {
	return &server{engine: engine}
}

// run starts the MCP server, reading from stdin and writing to stdout.
func (s *server) run() error {
	log.SetOutput(os.Stderr)
	log.Printf("beacon-mcp starting")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()

		var req jsonRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			log.Printf("invalid json-rpc: %v", err)
			continue
		}

		// Notifications have no ID — don't respond
		if req.ID == nil || string(req.ID) == "null" {
			log.Printf("notification: %s", req.Method)
			continue
		}

		resp := s.handleRequest(req)
		respBytes, _ := json.Marshal(resp)
		fmt.Fprintf(os.Stdout, "%s\n", respBytes)
	}

	return scanner.Err()
}

func (s *server) handleRequest(req jsonRPCRequest) jsonRPCResponse {
	resp := jsonRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
	}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    "beacon",
				"version": "0.1.0",
			},
		}
	case "tools/list":
		resp.Result = s.handleToolsList()
	case "tools/call":
		resp.Result = s.handleToolsCall(req.Params)
	case "ping":
		resp.Result = map[string]any{}
	default:
		resp.Error = &rpcError{
			Code:    -32601,
			Message: fmt.Sprintf("method not found: %s", req.Method),
		}
	}

	return resp
}

func (s *server) handleToolsList() any {
	return map[string]any{
		"tools": []map[string]any{
			{
				"name":        "search_entries",
				"description": "Search stored feed entries by meaning. Returns ranked entries plus the feeds they came from. Use time_filter to restrict results to a recent window and sort_by to trade relevance against freshness.",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "Natural-language search query",
						},
						"limit": map[string]any{
							"type":        "integer",
							"description": "Maximum number of results to return (default 5)",
						},
						"time_filter": map[string]any{
							"type":        "string",
							"description": "Restrict results to a recent window",
							"enum":        []string{"24h", "week", "month"},
						},
						"sort_by": map[string]any{
							"type":        "string",
							"description": "Result ordering: relevance (default), recent, or combined",
							"enum":        []string{"relevance", "recent", "combined"},
						},
					},
					"required": []string{"query"},
				},
			},
			{
				"name":        "fetch_feed",
				"description": "Fetch one RSS/Atom feed by URL and store its new entries. The feed does not need to be registered. Returns counts of added and skipped entries.",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"url": map[string]any{
							"type":        "string",
							"description": "The RSS/Atom feed URL",
						},
					},
					"required": []string{"url"},
				},
			},
			{
				"name":        "refresh_now",
				"description": "Trigger an immediate refresh cycle: fetch every registered feed and store new entries. Only available when the server is running with --refresh. Use this when the user asks to check for new content right now.",
				"inputSchema": map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			{
				"name":        "list_feeds",
				"description": "List all stored feeds with their names, URLs, categories, and last update times.",
				"inputSchema": map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			{
				"name":        "feed_details",
				"description": "Get one feed with its recent entries bucketed by age (last 24 hours, week, month, older). Use list_feeds to find the feed ID.",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"feed_id": map[string]any{
							"type":        "integer",
							"description": "The feed ID to retrieve",
						},
					},
					"required": []string{"feed_id"},
				},
			},
			{
				"name":        "list_categories",
				"description": "List the registered feed categories.",
				"inputSchema": map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			{
				"name":        "category_feeds",
				"description": "List the registered feeds in a category. Category matching is case-insensitive.",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"category": map[string]any{
							"type":        "string",
							"description": "The category name",
						},
					},
					"required": []string{"category"},
				},
			},
			{
				"name":        "add_feed",
				"description": "Register a feed under a category so it is included in refresh cycles. Find the feed URL first (e.g. via web search) before calling this.",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"category": map[string]any{
							"type":        "string",
							"description": "Category to file the feed under (created if new)",
						},
						"name": map[string]any{
							"type":        "string",
							"description": "Display name for the feed",
						},
						"url": map[string]any{
							"type":        "string",
							"description": "The RSS/Atom feed URL",
						},
					},
					"required": []string{"category", "name", "url"},
				},
			},
		},
	}
}

func (s *server) handleToolsCall(params json.RawMessage) any {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(params, &call); err != nil {
		return mcpError("invalid tool call: %v", err)
	}

	switch call.Name {
	case "search_entries":
		return s.handleSearchEntries(call.Arguments)
	case "fetch_feed":
		return s.handleFetchFeed(call.Arguments)
	case "refresh_now":
		return s.handleRefreshNow()
	case "list_feeds":
		return s.handleListFeeds()
	case "feed_details":
		return s.handleFeedDetails(call.Arguments)
	case "list_categories":
		return s.handleListCategories()
	case "category_feeds":
		return s.handleCategoryFeeds(call.Arguments)
	case "add_feed":
		return s.handleAddFeed(call.Arguments)
	default:
		return mcpError("unknown tool: %s", call.Name)
	}
}

// --- tool handlers ---

func (s *server) handleSearchEntries(args json.RawMessage) any {
	var params struct {
		Query      string `json:"query"`
		Limit      int    `json:"limit"`
		TimeFilter string `json:"time_filter"`
		SortBy     string `json:"sort_by"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return mcpError("invalid arguments: %v", err)
	}
	if params.Query == "" {
		return mcpError("query parameter is required")
	}

	result, err := s.engine.Search(context.Background(), params.Query, beacon.SearchOptions{
		Limit:      params.Limit,
		TimeFilter: params.TimeFilter,
		SortBy:     params.SortBy,
	})
	if err != nil {
		return mcpError("%v", err)
	}

	log.Printf("search_entries: query=%q -> %d entries", params.Query, len(result.Entries))
	if result.FilteredOut {
		return mcpText("Matches exist, but none were published inside the %s window. Retry without time_filter to see them.", params.TimeFilter)
	}
	return mcpJSON(result)
}

func (s *server) handleFetchFeed(args json.RawMessage) any {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return mcpError("invalid arguments: %v", err)
	}
	if params.URL == "" {
		return mcpError("url parameter is required")
	}

	result, err := s.engine.FetchFeed(context.Background(), params.URL)
	if err != nil {
		return mcpError("%v", err)
	}

	log.Printf("fetch_feed: url=%s added=%d skipped=%d", params.URL, result.EntriesAdded, result.EntriesSkipped)
	return mcpJSON(result)
}

func (s *server) handleRefreshNow() any {
	if s.refresher == nil {
		return mcpError("background refresh is not enabled; start the server with --refresh")
	}

	result, err := s.refresher.refresh(context.Background())
	if err != nil {
		return mcpError("%v", err)
	}

	return mcpJSON(result)
}

func (s *server) handleListFeeds() any {
	feeds, err := s.engine.ListFeeds(context.Background())
	if err != nil {
		return mcpError("%v", err)
	}

	log.Printf("list_feeds: %d feeds", len(feeds))
	return mcpJSON(feeds)
}

func (s *server) handleFeedDetails(args json.RawMessage) any {
	var params struct {
		FeedID int64 `json:"feed_id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return mcpError("invalid arguments: %v", err)
	}
	if params.FeedID == 0 {
		return mcpError("feed_id parameter is required")
	}

	details, err := s.engine.GetFeedDetails(context.Background(), params.FeedID)
	if err != nil {
		return mcpError("%v", err)
	}

	log.Printf("feed_details: id=%d", params.FeedID)
	return mcpJSON(details)
}

func (s *server) handleListCategories() any {
	categories := s.engine.Categories()
	log.Printf("list_categories: %d categories", len(categories))
	return mcpJSON(categories)
}

func (s *server) handleCategoryFeeds(args json.RawMessage) any {
	var params struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return mcpError("invalid arguments: %v", err)
	}
	if params.Category == "" {
		return mcpError("category parameter is required")
	}

	feeds := s.engine.CategoryFeeds(params.Category)
	log.Printf("category_feeds: category=%q -> %d feeds", params.Category, len(feeds))
	return mcpJSON(feeds)
}

func (s *server) handleAddFeed(args json.RawMessage) any {
	var params struct {
		Category string `json:"category"`
		Name     string `json:"name"`
		URL      string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return mcpError("invalid arguments: %v", err)
	}
	if params.Category == "" || params.Name == "" || params.URL == "" {
		return mcpError("category, name, and url parameters are required")
	}

	if err := s.engine.AddFeed(params.Category, params.Name, params.URL); err != nil {
		return mcpError("%v", err)
	}

	log.Printf("add_feed: category=%q name=%q url=%s", params.Category, params.Name, params.URL)
	return mcpText("Registered %s under %s", params.URL, params.Category)
}

// --- MCP response helpers ---

func mcpText(format string, args ...any) any {
	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": fmt.Sprintf(format, args...)},
		},
	}
}

func mcpJSON(data any) any {
	b, err := json.Marshal(data)
	if err != nil {
		return mcpError("marshal response: %v", err)
	}
	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(b)},
		},
	}
}

func mcpError(format string, args ...any) any {
	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": fmt.Sprintf("Error: "+format, args...)},
		},
		"isError": true,
	}
}
