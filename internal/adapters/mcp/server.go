// Package mcpadapter exposes the pipeline's job and retrieval operations as
// Model Context Protocol tools over stdio.
package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/core/ports"
)

const (
	serverName    = "idp-pipeline"
	serverVersion = "1.0.0"
)

type Server struct {
	mcp    *server.MCPServer
	jobs   ports.JobSubmitter
	reader ports.JobReader
	search ports.SearchService
	answer ports.AnswerService
	logger *slog.Logger
}

func NewServer(jobs ports.JobSubmitter, reader ports.JobReader, search ports.SearchService, answer ports.AnswerService) (*Server, error) {
	if jobs == nil || reader == nil {
		return nil, errors.New("job submitter and reader are required")
	}
	if search == nil || answer == nil {
		return nil, errors.New("search and answer services are required")
	}

	s := &Server{
		mcp:    server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false), server.WithRecovery()),
		jobs:   jobs,
		reader: reader,
		search: search,
		answer: answer,
		logger: slog.Default(),
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("search",
		mcp.WithDescription("Hybrid dense and keyword search over indexed document chunks."),
		mcp.WithString("query", mcp.Required(), mcp.Description("search query")),
		mcp.WithNumber("top_k", mcp.Description("number of results, server default when omitted")),
		mcp.WithString("mode", mcp.Description("retrieval mode: hybrid or dense")),
		mcp.WithString("doc_id", mcp.Description("restrict results to one document")),
		mcp.WithBoolean("rerank", mcp.Description("rerank candidates with the cross-encoder")),
	), s.handleSearch)

	s.mcp.AddTool(mcp.NewTool("answer",
		mcp.WithDescription("Answer a question from retrieved chunks with chunk-id citations."),
		mcp.WithString("query", mcp.Required(), mcp.Description("question to answer")),
		mcp.WithNumber("top_k", mcp.Description("number of chunks used as context")),
		mcp.WithString("mode", mcp.Description("retrieval mode: hybrid or dense")),
		mcp.WithString("style", mcp.Description("answer style hint")),
	), s.handleAnswer)

	s.mcp.AddTool(mcp.NewTool("submit_job",
		mcp.WithDescription("Queue text or a stored file name for ingestion."),
		mcp.WithString("text", mcp.Required(), mcp.Description("raw text or stored file name")),
		mcp.WithString("input_type", mcp.Description("text, pdf or image; inferred when omitted")),
		mcp.WithString("route", mcp.Description("auto, ocr, vlm or both")),
	), s.handleSubmitJob)

	s.mcp.AddTool(mcp.NewTool("get_job",
		mcp.WithDescription("Fetch the status and result of an ingestion job."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("job identifier")),
	), s.handleGetJob)
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.search.Search(ctx, s.searchRequest(request, query))
	if err != nil {
		return s.toolError("search", err), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleAnswer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.answer.Answer(ctx, domain.AnswerRequest{
		SearchRequest: s.searchRequest(request, query),
		Generation:    domain.GenerationConfig{Style: request.GetString("style", "")},
	})
	if err != nil {
		return s.toolError("answer", err), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleSubmitJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.jobs.Submit(ctx, domain.SubmitRequest{
		Input:     text,
		InputType: request.GetString("input_type", ""),
		Route:     request.GetString("route", ""),
	})
	if err != nil {
		return s.toolError("submit_job", err), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleGetJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	state, err := s.reader.GetJob(ctx, jobID)
	if err != nil {
		return s.toolError("get_job", err), nil
	}
	return jsonResult(state)
}

func (s *Server) searchRequest(request mcp.CallToolRequest, query string) domain.SearchRequest {
	return domain.SearchRequest{
		Query:     query,
		TopK:      request.GetInt("top_k", 0),
		Filters:   domain.SearchFilter{DocID: request.GetString("doc_id", "")},
		Retrieval: domain.RetrievalConfig{Mode: request.GetString("mode", "")},
		Rerank:    domain.RerankConfig{Enabled: request.GetBool("rerank", false)},
	}
}

// toolError reports failures as tool results so the client sees the message
// instead of a protocol error.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	s.logger.Warn("mcp_tool_failed", "tool", tool, "error", err)
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// Serve runs the stdio transport until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	started := time.Now()
	s.logger.Info("mcp_server_started", "name", serverName)
	err := server.NewStdioServer(s.mcp).Listen(ctx, in, out)
	s.logger.Info("mcp_server_stopped", "uptime_ms", time.Since(started).Milliseconds(), "error", err)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
