package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MaxResourceSize is the maximum chunk content size for resources (1MB).
const MaxResourceSize = 1024 * 1024

// ListResources returns the fixed ecmem://query_metrics resource only.
// Ingested chunks are not listed; each is read by id as a chunk://
// resource through ReadResource.
func (s *Server) ListResources(ctx context.Context, _ string) ([]ResourceInfo, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resources := []ResourceInfo{
		{
			URI:      "ecmem://query_metrics",
			Name:     "query_metrics",
			MIMEType: "application/json",
		},
	}
	return resources, "", nil // no pagination; chunk resources are read by id, not listed
}

// ReadResource reads a resource by URI. Only the chunk:// scheme is
// supported: a host resolves a chunk id from a prior search, recall,
// or predict response and reads it back as a standalone resource.
func (s *Server) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunkID, err := chunkIDFromURI(uri)
	if err != nil {
		return nil, err
	}

	chunk, err := s.engine.Chunk(ctx, chunkID)
	if err != nil {
		return nil, MapError(err)
	}
	if chunk == nil {
		return nil, NewResourceNotFoundError(uri)
	}

	if len(chunk.Content) > MaxResourceSize {
		return nil, &MCPError{
			Code:    ErrCodeFileTooLarge,
			Message: fmt.Sprintf("chunk too large: %d bytes (max %d)", len(chunk.Content), MaxResourceSize),
		}
	}

	return &ResourceContent{
		URI:      uri,
		Content:  chunk.Content,
		MIMEType: "text/plain",
	}, nil
}

func chunkIDFromURI(uri string) (string, error) {
	const prefix = "chunk://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", NewResourceNotFoundError(uri)
	}
	return uri[len(prefix):], nil
}

// registerChunkResourceHandler registers a read handler for the
// chunk:// scheme with the MCP server. Chunk ids are only known once
// ingestion has run, so the handler resolves the id out of the request
// URI at call time rather than registering one fixed set up front.
func (s *Server) registerChunkResourceHandler() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "chunk",
			URI:         "chunk://",
			Description: "Read a single ingested chunk by id, as surfaced in a search/recall/predict response.",
			MIMEType:    "text/plain",
		},
		func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			content, err := s.ReadResource(ctx, req.Params.URI)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{URI: content.URI, MIMEType: content.MIMEType, Text: content.Content},
				},
			}, nil
		},
	)
}

// QueryMetricsOutput is the JSON structure for the query_metrics resource.
type QueryMetricsOutput struct {
	Summary             QueryMetricsSummary `json:"summary"`
	QueryTypeCounts     map[string]int64    `json:"query_type_counts"`
	TopTerms            []QueryTermCount    `json:"top_terms"`
	ZeroResultQueries   []string            `json:"zero_result_queries"`
	LatencyDistribution map[string]int64    `json:"latency_distribution"`
}

// QueryMetricsSummary provides overview statistics.
type QueryMetricsSummary struct {
	TotalQueries  int64   `json:"total_queries"`
	TimePeriod    string  `json:"time_period"`
	ZeroResultPct float64 `json:"zero_result_pct"`
}

// QueryTermCount represents a term and its frequency.
type QueryTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// registerQueryMetricsResource registers the query_metrics resource.
func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         "ecmem://query_metrics",
			Description: "Query pattern telemetry for retrieval tuning",
			MIMEType:    "application/json",
		},
		s.makeQueryMetricsHandler(),
	)
}

// makeQueryMetricsHandler creates a handler for the query_metrics resource.
func (s *Server) makeQueryMetricsHandler() mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		s.mu.RLock()
		metrics := s.metrics
		s.mu.RUnlock()

		if metrics == nil {
			return nil, NewInvalidParamsError("query metrics not available")
		}

		snapshot := metrics.Snapshot()

		output := QueryMetricsOutput{
			Summary: QueryMetricsSummary{
				TotalQueries:  snapshot.TotalQueries,
				TimePeriod:    "session",
				ZeroResultPct: snapshot.ZeroResultPercentage(),
			},
			QueryTypeCounts:     make(map[string]int64),
			TopTerms:            make([]QueryTermCount, 0, len(snapshot.TopTerms)),
			ZeroResultQueries:   snapshot.ZeroResultQueries,
			LatencyDistribution: make(map[string]int64),
		}

		for qt, count := range snapshot.QueryTypeCounts {
			output.QueryTypeCounts[string(qt)] = count
		}

		for _, tc := range snapshot.TopTerms {
			output.TopTerms = append(output.TopTerms, QueryTermCount{
				Term:  tc.Term,
				Count: tc.Count,
			})
		}

		for bucket, count := range snapshot.LatencyDistribution {
			output.LatencyDistribution[string(bucket)] = count
		}

		content, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return nil, MapError(err)
		}

		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      "ecmem://query_metrics",
					MIMEType: "application/json",
					Text:     string(content),
				},
			},
		}, nil
	}
}
