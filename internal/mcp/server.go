package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ecmem/engine/internal/archive"
	"github.com/ecmem/engine/internal/ingest"
	"github.com/ecmem/engine/internal/search"
	"github.com/ecmem/engine/internal/telemetry"
	"github.com/ecmem/engine/pkg/memory"
	"github.com/ecmem/engine/pkg/version"
)

// Server is the MCP server for the episodic memory engine. It bridges
// AI clients (Claude Code, Cursor) with a memory.Engine, exposing its
// six core operations (ingest, search, recall, predict, recluster,
// prune) plus a supplemental info tool and chunk resources.
type Server struct {
	mcp    *mcp.Server
	engine *memory.Engine
	logger *slog.Logger

	// Project identification: every tool call is scoped to this one
	// project — one server process per workspace.
	projectID string
	rootPath  string

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ResourceInfo contains information about a resource.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// NewServer creates a new MCP server scoped to one project. engine is
// the shared memory.Engine handle; projectID must already be
// registered via engine.EnsureProject before tools are called.
func NewServer(engine *memory.Engine, projectID, rootPath string) (*Server, error) {
	if engine == nil {
		return nil, errors.New("memory engine is required")
	}
	if projectID == "" {
		return nil, errors.New("projectID is required")
	}

	s := &Server{
		engine:    engine,
		projectID: projectID,
		rootPath:  rootPath,
		logger:    slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "ecmem",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	s.registerChunkResourceHandler()

	return s, nil
}

// SetMetrics sets the query metrics collector for telemetry.
// When set, a query_metrics resource is registered.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "ecmem", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	return true, true
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{
			Name:        "ingest_session",
			Description: "Ingest a conversation transcript (JSON lines) into the episodic memory store, chunking it and linking it into the causal graph.",
		},
		{
			Name:        "search",
			Description: "Hybrid vector + keyword search over ingested conversation history, expanded with cluster siblings and fused by reciprocal rank.",
		},
		{
			Name:        "recall",
			Description: "Walk the causal graph backward from a query's best-matching chunk to reconstruct a chronological problem-to-solution narrative.",
		},
		{
			Name:        "predict",
			Description: "Walk the causal graph forward from a query's best-matching chunk to project the most likely continuation.",
		},
		{
			Name:        "recluster",
			Description: "Re-run clustering over the project's current chunks, reassigning noise points where a nearby cluster now qualifies.",
		},
		{
			Name:        "start_background_prune",
			Description: "Start (or report progress of) a background scan that deletes decayed edges and orphaned chunks.",
		},
		{
			Name:        "info",
			Description: "Report index statistics (chunk/edge/cluster counts) and whether the persisted index matches the currently configured embedding model.",
		},
	}
}

// CallTool invokes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch name {
	case "ingest_session":
		path, _ := args["path"].(string)
		skip, _ := args["skip_if_exists"].(bool)
		return s.handleIngestSessionTool(ctx, IngestSessionInput{Path: path, SkipIfExists: skip})
	case "search":
		return s.handleSearchTool(ctx, toSearchInput(args))
	case "recall":
		return s.handleRecallTool(ctx, toEpisodicInput(args))
	case "predict":
		return s.handlePredictTool(ctx, toEpisodicInput(args))
	case "recluster":
		return s.handleReclusterTool(ctx)
	case "start_background_prune":
		return s.handleStartBackgroundPruneTool(ctx)
	case "info":
		return s.handleInfoTool(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func toSearchInput(args map[string]any) SearchInput {
	in := SearchInput{}
	in.Query, _ = args["query"].(string)
	in.AgentFilter, _ = args["agent_filter"].(string)
	in.CurrentSessionID, _ = args["current_session_id"].(string)
	in.SkipClusters, _ = args["skip_clusters"].(bool)
	return in
}

func toEpisodicInput(args map[string]any) EpisodicInput {
	in := EpisodicInput{}
	in.Query, _ = args["query"].(string)
	in.AgentFilter, _ = args["agent_filter"].(string)
	in.CurrentSessionID, _ = args["current_session_id"].(string)
	if tb, ok := args["token_budget"].(float64); ok {
		in.TokenBudget = int(tb)
	}
	return in
}

// handleIngestSessionTool handles the ingest_session tool invocation.
func (s *Server) handleIngestSessionTool(ctx context.Context, input IngestSessionInput) (*IngestSessionOutput, error) {
	requestID := generateRequestID()

	if strings.TrimSpace(input.Path) == "" {
		return nil, NewInvalidParamsError("path parameter is required and must be a non-empty string")
	}

	s.logger.Info("ingest_session started",
		slog.String("request_id", requestID),
		slog.String("path", input.Path))

	res, err := s.engine.IngestSession(ctx, s.projectID, input.Path, ingest.Options{
		SkipIfExists: input.SkipIfExists,
	})
	if err != nil {
		s.logger.Error("ingest_session failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("ingest_session completed",
		slog.String("request_id", requestID),
		slog.Int("chunk_count", res.ChunkCount),
		slog.Int64("duration_ms", res.DurationMs))

	return &IngestSessionOutput{
		SessionID:         res.SessionID,
		ChunkCount:        res.ChunkCount,
		EdgeCount:         res.EdgeCount,
		CrossSessionEdges: res.CrossSessionEdges,
		SubAgentEdges:     res.SubAgentEdges,
		Skipped:           res.Skipped,
		DurationMs:        res.DurationMs,
	}, nil
}

// handleSearchTool handles the search tool invocation.
func (s *Server) handleSearchTool(ctx context.Context, input SearchInput) (*SearchOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	if strings.TrimSpace(input.Query) == "" {
		return nil, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query))

	resp, err := s.engine.Search(ctx, memory.SearchRequest{
		ProjectID:        s.projectID,
		Query:            input.Query,
		AgentFilter:      input.AgentFilter,
		CurrentSessionID: input.CurrentSessionID,
		SkipClusters:     input.SkipClusters,
	})
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("chunk_count", len(resp.Chunks)))

	return &SearchOutput{
		Text:            resp.Text,
		TokenCount:      resp.TokenCount,
		Chunks:          toResultChunkOutputs(resp.Chunks),
		TotalConsidered: resp.TotalConsidered,
		DurationMs:      resp.DurationMs,
	}, nil
}

// handleRecallTool handles the recall tool invocation.
func (s *Server) handleRecallTool(ctx context.Context, input EpisodicInput) (*EpisodicOutput, error) {
	return s.handleEpisodicTool(ctx, "recall", input, s.engine.Recall)
}

// handlePredictTool handles the predict tool invocation.
func (s *Server) handlePredictTool(ctx context.Context, input EpisodicInput) (*EpisodicOutput, error) {
	return s.handleEpisodicTool(ctx, "predict", input, s.engine.Predict)
}

func (s *Server) handleEpisodicTool(
	ctx context.Context,
	toolName string,
	input EpisodicInput,
	op func(context.Context, memory.EpisodicRequest) (*memory.EpisodicResponse, error),
) (*EpisodicOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	if strings.TrimSpace(input.Query) == "" {
		return nil, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	s.logger.Info(toolName+" started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query))

	resp, err := op(ctx, memory.EpisodicRequest{
		ProjectID:        s.projectID,
		Query:            input.Query,
		AgentFilter:      input.AgentFilter,
		CurrentSessionID: input.CurrentSessionID,
		TokenBudget:      input.TokenBudget,
	})
	duration := time.Since(start)

	if err != nil {
		s.logger.Error(toolName+" failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info(toolName+" completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.String("mode", resp.Mode))

	return &EpisodicOutput{
		Mode:       resp.Mode,
		Narrative:  resp.Narrative,
		TokenCount: resp.TokenCount,
		Chunks:     toResultChunkOutputs(resp.Chunks),
		DurationMs: resp.DurationMs,
	}, nil
}

// handleReclusterTool handles the recluster tool invocation.
func (s *Server) handleReclusterTool(ctx context.Context) (*ReclusterOutput, error) {
	requestID := generateRequestID()
	s.logger.Info("recluster started", slog.String("request_id", requestID))

	res, err := s.engine.Recluster(ctx, s.projectID)
	if err != nil {
		s.logger.Error("recluster failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("recluster completed",
		slog.String("request_id", requestID),
		slog.Int("num_clusters", res.NumClusters))

	return &ReclusterOutput{
		NumClusters:     res.NumClusters,
		AssignedChunks:  res.AssignedChunks,
		ReassignedNoise: res.ReassignedNoise,
	}, nil
}

// handleStartBackgroundPruneTool handles the start_background_prune tool invocation.
func (s *Server) handleStartBackgroundPruneTool(ctx context.Context) (*StartBackgroundPruneOutput, error) {
	requestID := generateRequestID()
	s.logger.Info("start_background_prune started", slog.String("request_id", requestID))

	progress, err := s.engine.StartBackgroundPrune(ctx, s.projectID)
	if err != nil {
		s.logger.Error("start_background_prune failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return &StartBackgroundPruneOutput{
		Status:         progress.Status,
		EdgesScanned:   progress.EdgesScanned,
		EdgesDeleted:   progress.EdgesDeleted,
		ChunksScanned:  progress.ChunksScanned,
		ChunksOrphaned: progress.ChunksOrphaned,
		Error:          progress.Error,
	}, nil
}

// handleInfoTool handles the info tool invocation.
func (s *Server) handleInfoTool(ctx context.Context) (*InfoOutput, error) {
	requestID := generateRequestID()
	s.logger.Info("info started", slog.String("request_id", requestID))

	info, err := s.engine.Info(ctx, s.projectID)
	if err != nil {
		s.logger.Error("info failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return &InfoOutput{
		Location:          info.Location,
		ChunkCount:        info.ChunkCount,
		EdgeCount:         info.EdgeCount,
		ClusterCount:      info.ClusterCount,
		IndexModel:        info.IndexModel,
		IndexDimensions:   info.IndexDimensions,
		CurrentModel:      info.CurrentModel,
		CurrentDimensions: info.CurrentDimensions,
		Compatible:        info.Compatible,
	}, nil
}

func toResultChunkOutputs(chunks []search.ResultChunk) []ResultChunkOutput {
	out := make([]ResultChunkOutput, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, ResultChunkOutput{
			ChunkID:   c.ChunkID,
			SessionID: c.SessionID,
			AgentID:   c.AgentID,
			Content:   c.Content,
			CreatedAt: c.CreatedAt.Format(time.RFC3339),
			Score:     c.Score,
			Source:    string(c.Source),
		})
	}
	return out
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest_session",
		Description: "Ingest a conversation transcript (JSON lines) into the episodic memory store, chunking it and linking it into the causal graph.",
	}, s.mcpIngestSessionHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Hybrid vector + keyword search over ingested conversation history, expanded with cluster siblings and fused by reciprocal rank.",
	}, s.mcpSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "recall",
		Description: "Walk the causal graph backward from a query's best-matching chunk to reconstruct a chronological problem-to-solution narrative.",
	}, s.mcpRecallHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "predict",
		Description: "Walk the causal graph forward from a query's best-matching chunk to project the most likely continuation.",
	}, s.mcpPredictHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "recluster",
		Description: "Re-run clustering over the project's current chunks, reassigning noise points where a nearby cluster now qualifies.",
	}, s.mcpReclusterHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "start_background_prune",
		Description: "Start (or report progress of) a background scan that deletes decayed edges and orphaned chunks.",
	}, s.mcpStartBackgroundPruneHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "info",
		Description: "Report index statistics and whether the persisted index matches the currently configured embedding model.",
	}, s.mcpInfoHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 7))
}

func (s *Server) mcpIngestSessionHandler(ctx context.Context, _ *mcp.CallToolRequest, input IngestSessionInput) (
	*mcp.CallToolResult, IngestSessionOutput, error,
) {
	out, err := s.handleIngestSessionTool(ctx, input)
	if err != nil {
		return nil, IngestSessionOutput{}, MapError(err)
	}
	return nil, *out, nil
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult, SearchOutput, error,
) {
	out, err := s.handleSearchTool(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}
	return nil, *out, nil
}

func (s *Server) mcpRecallHandler(ctx context.Context, _ *mcp.CallToolRequest, input EpisodicInput) (
	*mcp.CallToolResult, EpisodicOutput, error,
) {
	out, err := s.handleRecallTool(ctx, input)
	if err != nil {
		return nil, EpisodicOutput{}, MapError(err)
	}
	return nil, *out, nil
}

func (s *Server) mcpPredictHandler(ctx context.Context, _ *mcp.CallToolRequest, input EpisodicInput) (
	*mcp.CallToolResult, EpisodicOutput, error,
) {
	out, err := s.handlePredictTool(ctx, input)
	if err != nil {
		return nil, EpisodicOutput{}, MapError(err)
	}
	return nil, *out, nil
}

func (s *Server) mcpReclusterHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ReclusterInput) (
	*mcp.CallToolResult, ReclusterOutput, error,
) {
	out, err := s.handleReclusterTool(ctx)
	if err != nil {
		return nil, ReclusterOutput{}, MapError(err)
	}
	return nil, *out, nil
}

func (s *Server) mcpStartBackgroundPruneHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StartBackgroundPruneInput) (
	*mcp.CallToolResult, StartBackgroundPruneOutput, error,
) {
	out, err := s.handleStartBackgroundPruneTool(ctx)
	if err != nil {
		return nil, StartBackgroundPruneOutput{}, MapError(err)
	}
	return nil, *out, nil
}

func (s *Server) mcpInfoHandler(ctx context.Context, _ *mcp.CallToolRequest, _ InfoInput) (
	*mcp.CallToolResult, InfoOutput, error,
) {
	out, err := s.handleInfoTool(ctx)
	if err != nil {
		return nil, InfoOutput{}, MapError(err)
	}
	return nil, *out, nil
}

// Export exposes the project's persisted state as a downloadable
// archive, backing a future `resources/read` on an `archive://` URI or
// a host-side export command.
func (s *Server) Export(ctx context.Context, opts archive.ExportOptions) ([]byte, error) {
	proj, err := s.engine.ProjectBySlug(ctx, s.projectID)
	if err != nil {
		return nil, MapError(err)
	}
	return s.engine.Export(ctx, proj, opts)
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		s.logger.Debug("using stdio transport for JSON-RPC")
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	case "sse":
		return fmt.Errorf("SSE transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	// The MCP server doesn't have a Close method - it stops when context is canceled.
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
