package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/dshills/docpipe/internal/orchestrator"
	"github.com/dshills/docpipe/internal/searcher"
	"github.com/dshills/docpipe/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "docpipe"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Pipeline runs ingests and reports their state
type Pipeline interface {
	Run(ctx context.Context, inputDir string, mode types.Mode) (*orchestrator.Report, error)
	Status(ctx context.Context, inputDir string) (*orchestrator.Status, error)
}

// Searcher queries accepted documents
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
	InvalidateCache()
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp         *server.MCPServer
	pipeline    Pipeline
	searcher    Searcher
	defaultMode types.Mode
	logger      zerolog.Logger
}

// NewServer creates a new MCP server instance. defaultMode applies when an
// ingest call names no mode.
func NewServer(pipeline Pipeline, srch Searcher, defaultMode types.Mode, logger zerolog.Logger) *Server {
	s := &Server{
		mcp:         server.NewMCPServer(ServerName, ServerVersion),
		pipeline:    pipeline,
		searcher:    srch,
		defaultMode: defaultMode,
		logger:      logger,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info().Str("name", ServerName).Str("version", ServerVersion).Msg("serving MCP on stdio")
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(ingestDirectoryTool(), s.handleIngestDirectory)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(searchDocumentsTool(), s.handleSearchDocuments)
}
