// Package mcp exposes job submission and status lookup as Model Context
// Protocol tools, so agents can ask qaflow questions over stdio.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/jobs"
	"github.com/teranos/qaflow/logger"
	"github.com/teranos/qaflow/version"
)

// Submitter admits questions
type Submitter interface {
	Submit(ctx context.Context, question string, context json.RawMessage) (string, error)
}

// StatusGetter reads job views
type StatusGetter interface {
	Get(ctx context.Context, jobID string) (*jobs.View, error)
}

// Server wraps the dispatcher and status reader as MCP tools
type Server struct {
	submitter Submitter
	status    StatusGetter
	server    *mcpserver.MCPServer
	logger    *zap.SugaredLogger
}

// NewServer creates the MCP server and registers its tools
func NewServer(submitter Submitter, status StatusGetter, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = logger.ComponentLogger("mcp")
	}
	s := &Server{
		submitter: submitter,
		status:    status,
		logger:    log,
		server: mcpserver.NewMCPServer(
			"qaflow",
			version.Get().Version,
			mcpserver.WithToolCapabilities(true),
		),
	}
	s.registerTools()
	return s
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects
func (s *Server) ServeStdio() error {
	s.logger.Infow("Serving MCP over stdio")
	return mcpserver.ServeStdio(s.server)
}

func (s *Server) registerTools() {
	submitTool := mcp.NewTool("submit_question",
		mcp.WithDescription("Submit a natural-language question for asynchronous analysis. Returns a job id to poll with get_job_status."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer"),
		),
		mcp.WithObject("context",
			mcp.Description("Optional JSON object with background for the question"),
		),
	)
	s.server.AddTool(submitTool, s.handleSubmit)

	statusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status of a submitted question: processing, completed with a result, or failed with an error"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job id returned by submit_question"),
		),
	)
	s.server.AddTool(statusTool, s.handleStatus)
}

func (s *Server) handleSubmit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var jobContext json.RawMessage
	if raw, ok := request.GetArguments()["context"]; ok && raw != nil {
		jobContext, err = json.Marshal(raw)
		if err != nil {
			return mcp.NewToolResultError("context must be a JSON object"), nil
		}
	}

	jobID, err := s.submitter.Submit(ctx, question, jobContext)
	if err != nil {
		if errors.IsInvalidRequestError(err) {
			return mcp.NewToolResultError("Question is required"), nil
		}
		s.logger.Errorw("Failed to submit question", logger.FieldError, err)
		return mcp.NewToolResultError("Failed to submit question"), nil
	}

	return jsonResult(map[string]string{"job_id": jobID, "status": string(jobs.StatusProcessing)})
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	view, err := s.status.Get(ctx, jobID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return mcp.NewToolResultError("Job not found: " + jobID), nil
		}
		s.logger.Errorw("Failed to read job status", logger.FieldJobID, jobID, logger.FieldError, err)
		return mcp.NewToolResultError("Failed to read job status"), nil
	}
	return jsonResult(view)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode tool result")
	}
	return mcp.NewToolResultText(string(data)), nil
}
