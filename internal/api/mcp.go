package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kargohq/stevedore/internal/session"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Importer Importer
	Store    SessionStore
}

// NewMCPServer creates an MCP server exposing the import workflow as tools,
// so an agent can drive an import end to end: start, answer, review, approve.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"stevedore",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("stevedore — intelligent file import for the logistics platform. Start an import, answer the clarifying questions, review, then approve."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("start_import",
			mcp.WithDescription("Upload a file and start an intelligent import. Returns the session with any clarifying questions."),
			mcp.WithString("filename", mcp.Description("Original filename, extension drives preview handling"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Base64-encoded file content"), mcp.Required()),
			mcp.WithString("content_type", mcp.Description("MIME type (default application/octet-stream)")),
		),
		mcpStartImport(deps),
	)

	s.AddTool(
		mcp.NewTool("answer_questions",
			mcp.WithDescription("Submit answers to the open clarifying questions and re-analyze."),
			mcp.WithString("session_id", mcp.Description("Import session id"), mcp.Required()),
			mcp.WithString("answers", mcp.Description("JSON object mapping question id to answer"), mcp.Required()),
			mcp.WithString("feedback", mcp.Description("Optional free-form guidance for the analyst")),
		),
		mcpAnswerQuestions(deps),
	)

	s.AddTool(
		mcp.NewTool("review_import",
			mcp.WithDescription("Get the approval summary for a session awaiting review."),
			mcp.WithString("session_id", mcp.Description("Import session id"), mcp.Required()),
		),
		mcpReviewImport(deps),
	)

	s.AddTool(
		mcp.NewTool("request_changes",
			mcp.WithDescription("Return a session under review to questioning so answers can be revised."),
			mcp.WithString("session_id", mcp.Description("Import session id"), mcp.Required()),
		),
		mcpRequestChanges(deps),
	)

	s.AddTool(
		mcp.NewTool("approve_import",
			mcp.WithDescription("Approve and execute the import. May complete synchronously, queue a background job, or come back blocked on missing destination columns."),
			mcp.WithString("session_id", mcp.Description("Import session id"), mcp.Required()),
			mcp.WithString("hints", mcp.Description("Optional JSON object of destination hints")),
		),
		mcpApproveImport(deps),
	)

	s.AddTool(
		mcp.NewTool("import_status",
			mcp.WithDescription("Fetch the current state of an import session."),
			mcp.WithString("session_id", mcp.Description("Import session id"), mcp.Required()),
		),
		mcpImportStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_jobs",
			mcp.WithDescription("List tracked background import jobs, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of jobs (default 20)")),
		),
		mcpListJobs(deps),
	)

	return s
}

func mcpStartImport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filename, err := req.RequireString("filename")
		if err != nil {
			return mcpError("filename is required"), nil
		}
		encoded, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return mcpError("invalid base64 content"), nil
		}
		contentType := req.GetString("content_type", "application/octet-stream")

		sess, err := deps.Importer.Start(ctx, filename, contentType, data)
		if err != nil {
			return mcpError(fmt.Sprintf("import failed to start: %v", err)), nil
		}
		return mcpJSON(sess)
	}
}

func mcpAnswerQuestions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, result := mcpLoadSession(deps, req)
		if result != nil {
			return result, nil
		}
		answersJSON, err := req.RequireString("answers")
		if err != nil {
			return mcpError("answers is required"), nil
		}
		var answers map[string]string
		if err := json.Unmarshal([]byte(answersJSON), &answers); err != nil {
			return mcpError(fmt.Sprintf("invalid answers JSON: %v", err)), nil
		}
		feedback := req.GetString("feedback", "")

		if err := deps.Importer.SubmitAnswers(ctx, sess, answers, feedback); err != nil {
			return mcpError(fmt.Sprintf("re-analysis failed: %v", err)), nil
		}
		return mcpJSON(sess)
	}
}

func mcpReviewImport(deps MCPDeps) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, result := mcpLoadSession(deps, req)
		if result != nil {
			return result, nil
		}
		summary, err := deps.Importer.Review(sess)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(summary)
	}
}

func mcpRequestChanges(deps MCPDeps) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, result := mcpLoadSession(deps, req)
		if result != nil {
			return result, nil
		}
		if err := deps.Importer.RequestEdit(sess); err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(sess)
	}
}

func mcpApproveImport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, result := mcpLoadSession(deps, req)
		if result != nil {
			return result, nil
		}
		var hints map[string]string
		if raw := req.GetString("hints", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &hints); err != nil {
				return mcpError(fmt.Sprintf("invalid hints JSON: %v", err)), nil
			}
		}

		out, err := deps.Importer.Approve(ctx, sess, hints)
		if err != nil {
			return mcpError(fmt.Sprintf("import failed: %v", err)), nil
		}
		return mcpJSON(out)
	}
}

func mcpImportStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, result := mcpLoadSession(deps, req)
		if result != nil {
			return result, nil
		}
		return mcpJSON(sess)
	}
}

func mcpListJobs(deps MCPDeps) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}
		jobs, err := deps.Store.ListJobs(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing jobs failed: %v", err)), nil
		}
		if len(jobs) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(jobs)
	}
}

func mcpLoadSession(deps MCPDeps, req mcp.CallToolRequest) (*session.ImportSession, *mcp.CallToolResult) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return nil, mcpError("session_id is required")
	}
	s, err := deps.Store.LoadSession(id)
	if err != nil {
		return nil, mcpError(fmt.Sprintf("session %s: %v", id, err))
	}
	return s, nil
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
