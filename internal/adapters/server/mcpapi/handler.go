// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/evanschultz/gossiptrace/internal/adapters/server/common"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing run, record and summary tools.
func NewHandler(cfg Config, runs common.RunReader) (*Handler, error) {
	if runs == nil {
		return nil, fmt.Errorf("run reader is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerRunTools(mcpSrv, runs)
	registerSummaryTool(mcpSrv, runs)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "gossiptrace"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerRunTools registers the run and record listing tools.
func registerRunTools(srv *mcpserver.MCPServer, runs common.RunReader) {
	srv.AddTool(
		mcp.NewTool(
			"gossiptrace.list_runs",
			mcp.WithDescription("List stored replay runs oldest first."),
			mcp.WithArray("variants", mcp.Description("Optional variant filter"), mcp.WithStringItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			rows, err := runs.ListRuns(ctx, req.GetStringSlice("variants", nil))
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"runs": rows})
			if err != nil {
				return nil, fmt.Errorf("encode list_runs result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"gossiptrace.get_run",
			mcp.WithDescription("Return one stored replay run with its totals."),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			runID, err := req.RequireString("run_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			run, err := runs.GetRun(ctx, runID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(run)
			if err != nil {
				return nil, fmt.Errorf("encode get_run result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"gossiptrace.list_records",
			mcp.WithDescription("List propagation records of one run ordered by item and version."),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
			mcp.WithString("state", mcp.Description("Record state filter"), mcp.Enum(common.SupportedRecordStates()...)),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			runID, err := req.RequireString("run_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			rows, err := runs.ListRecords(ctx, common.ListRecordsRequest{
				RunID: runID,
				State: req.GetString("state", ""),
				Limit: req.GetInt("limit", 0),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"records": rows})
			if err != nil {
				return nil, fmt.Errorf("encode list_records result: %w", err)
			}
			return result, nil
		},
	)
}

// registerSummaryTool registers the `gossiptrace.summary` tool.
func registerSummaryTool(srv *mcpserver.MCPServer, runs common.RunReader) {
	srv.AddTool(
		mcp.NewTool(
			"gossiptrace.summary",
			mcp.WithDescription("Summarize completion latency per variant across completed runs."),
			mcp.WithArray("run_ids", mcp.Description("Restrict to these runs"), mcp.WithStringItems()),
			mcp.WithArray("variants", mcp.Description("Restrict to these variants"), mcp.WithStringItems()),
			mcp.WithNumber("settle", mcp.Description("Exclude records first seen within this many ticks of the run end")),
			mcp.WithArray("quantiles", mcp.Description("Quantiles in [0,1]"), mcp.WithNumberItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			in := common.SummaryRequest{
				RunIDs:    req.GetStringSlice("run_ids", nil),
				Variants:  req.GetStringSlice("variants", nil),
				Quantiles: req.GetFloatSlice("quantiles", nil),
			}
			if _, ok := req.GetArguments()["settle"]; ok {
				settle := req.GetFloat("settle", 0)
				in.Settle = &settle
			}
			rows, err := runs.Summarize(ctx, in)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{"variants": rows})
			if err != nil {
				return nil, fmt.Errorf("encode summary result: %w", err)
			}
			return result, nil
		},
	)
}

// toolResultFromError maps transport errors into MCP tool-error results.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.Is(err, common.ErrUnavailable):
		return mcp.NewToolResultError("unavailable: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}
