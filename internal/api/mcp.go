package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  ReadStore
	Gate   *freshness.Gate
	Policy freshness.Policy // zero uses freshness.DefaultPolicy
	Today  func() freshness.Date
}

func (d MCPDeps) deps() Deps {
	return Deps{Store: d.Store, Gate: d.Gate, Today: d.Today}
}

// NewMCPServer creates an MCP server with the fdv tools and resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	if deps.Policy == (freshness.Policy{}) {
		deps.Policy = freshness.DefaultPolicy()
	}

	s := server.NewMCPServer(
		"fdv",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("fdv: collected daily prices, news and disclosures for tracked listed companies."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("collection_status",
			mcp.WithDescription("Report how far collection has progressed for one entity and what the next run would fetch."),
			mcp.WithString("entity_id", mcp.Description("Six-digit exchange code, e.g. 005930"), mcp.Required()),
		),
		mcpCollectionStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_news",
			mcp.WithDescription("List the newest stored news articles for an entity."),
			mcp.WithString("entity_id", mcp.Description("Six-digit exchange code; empty lists all entities")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of articles (default 10)")),
		),
		mcpRecentNews(deps),
	)

	s.AddTool(
		mcp.NewTool("check_freshness",
			mcp.WithDescription("Compute the date range a collection would fetch given the last observed date."),
			mcp.WithString("last_observed_date", mcp.Description("YYYY-MM-DD; omit for an entity never collected")),
			mcp.WithString("today", mcp.Description("YYYY-MM-DD reference day"), mcp.Required()),
		),
		mcpCheckFreshness(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"runs://recent",
			"Recent Collection Runs",
			mcp.WithResourceDescription("Last 10 collection run summaries"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentRuns(deps),
	)

	return s
}

type statusResult struct {
	Entity   entityView   `json:"entity"`
	Metadata metadataView `json:"metadata"`
	Prices   int          `json:"price_rows"`
	News     int          `json:"news_articles"`
}

func mcpCollectionStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("entity_id")
		if err != nil {
			return mcpError("entity_id is required"), nil
		}

		e, err := deps.Store.GetEntity(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("entity %s is not tracked", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get entity: %v", err)), nil
		}

		meta, err := entityStatus(deps.deps(), id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load metadata: %v", err)), nil
		}
		prices, err := deps.Store.CountPrices(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to count prices: %v", err)), nil
		}
		news, err := deps.Store.CountNews(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to count news: %v", err)), nil
		}

		return mcpJSON(statusResult{Entity: viewEntity(e), Metadata: meta, Prices: prices, News: news})
	}
}

func mcpRecentNews(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetString("entity_id", "")
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		articles, err := deps.Store.ListNews(id, limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list news: %v", err)), nil
		}
		return mcpJSON(viewAll(articles, viewNews))
	}
}

func mcpCheckFreshness(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		todayStr, err := req.RequireString("today")
		if err != nil {
			return mcpError("today is required"), nil
		}
		today, err := freshness.ParseDate(todayStr)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		var last *freshness.Date
		if s := req.GetString("last_observed_date", ""); s != "" {
			d, err := freshness.ParseDate(s)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			last = &d
		}

		r, err := deps.Policy.Calculate(last, today)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(r)
	}
}

func mcpResourceRecentRuns(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := deps.Store.ListRuns("", 10)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}

		b, err := json.Marshal(viewAll(runs, viewRun))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal runs: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
