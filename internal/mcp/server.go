package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/drugbot/internal/drugbot"
	"github.com/bull/drugbot/internal/session"
)

// ErrMissingCore is returned when NewServer gets no service.
var ErrMissingCore = errors.New("mcp: drug information service is required")

// Core is the service the tools call into. drugbot.Service implements it.
type Core interface {
	Answer(ctx context.Context, query, sessionID string) (*drugbot.Answer, error)
	Stats() session.Stats
	RecentQuestions() []string
	History(ctx context.Context, sessionID string) ([]session.Message, error)
	ClearHistory(ctx context.Context, sessionID string) (session.ClearResult, error)
}

var _ Core = (*drugbot.Service)(nil)

// Server wraps the MCP server with its dependencies.
type Server struct {
	server *mcp.Server
	core   Core
	logger *slog.Logger
}

// Config holds server dependencies.
type Config struct {
	Core    Core
	Version string
	Logger  *slog.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Core == nil {
		return nil, ErrMissingCore
	}
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	impl := &mcp.Implementation{
		Name:    "drugbot",
		Version: version,
	}

	s := &Server{
		server: mcp.NewServer(impl, nil),
		core:   cfg.Core,
		logger: logger,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "ask_drug_question",
		Description: "Answer a question about a medication using only the indexed drug information. " +
			"Returns the answer with cited sources. Pass the returned session_id to continue the conversation.",
	}, s.handleAsk)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_stats",
		Description: "Get indexed drug and chunk counts, answered and failed query counts, response latency and readiness status.",
	}, s.handleStats)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_recent_questions",
		Description: "List up to five recently asked distinct questions, newest first.",
	}, s.handleRecentQuestions)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_history",
		Description: "Get the messages of a conversation by session id.",
	}, s.handleHistory)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "clear_history",
		Description: "Permanently clear a conversation, or every conversation when session_id is omitted. " +
			"Ask the user for confirmation first and pass confirm=true.",
	}, s.handleClearHistory)
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
