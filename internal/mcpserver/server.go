// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes refsync sync tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/refsync/internal/apperr"
	"github.com/starford/refsync/internal/engine"
	"github.com/starford/refsync/internal/models"
	"github.com/starford/refsync/internal/storage"
)

const formatURI = "refsync://document-format"

// Syncer is the engine surface exposed as tools.
type Syncer interface {
	RunFullCycle(ctx context.Context, opts engine.RunOptions) (models.Outcome, error)
	RunSingleRecord(ctx context.Context, key string) (models.Outcome, error)
	ClearAllBaselines(ctx context.Context) error
	Status() engine.Status
	DocumentPath(key string) string
	Folder() string
}

// Server wraps the MCP server with refsync tools.
type Server struct {
	mcp    *server.MCPServer
	syncer Syncer
	store  storage.Provider
}

// New creates a new MCP server with all tools registered.
func New(syncer Syncer, store storage.Provider) *Server {
	s := &Server{syncer: syncer, store: store}

	s.mcp = server.NewMCPServer(
		"refsync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("sync_library",
		mcp.WithDescription("Run one sync cycle: fetch tagged records changed in the remote library, "+
			"reconcile tags and regenerate their documents. Returns the cycle outcome."),
		mcp.WithBoolean("full", mcp.Description("Ignore the library cursor and check every tagged record")),
	), s.syncLibrary)

	s.mcp.AddTool(mcp.NewTool("sync_item",
		mcp.WithDescription("Fetch one record by key and regenerate its document, reconciling tags."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Record key in the remote library")),
	), s.syncItem)

	s.mcp.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Engine state, library cursor and the outcome of the last cycle."),
	), s.syncStatus)

	s.mcp.AddTool(mcp.NewTool("clear_sync_state",
		mcp.WithDescription("Forget all version and tag baselines. The next cycle treats every record as new."),
	), s.clearSyncState)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read the generated Markdown document for a record."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Record key")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List the generated documents in the vault folder."),
	), s.listDocuments)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Document Format",
			mcp.WithResourceDescription("Layout of generated documents and the user-editable zone."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func outcomeResult(out models.Outcome, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if out.Notice != "" {
		return mcp.NewToolResultError(out.Notice), nil
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(out.Summary() + "\n" + string(data)), nil
}

func (s *Server) syncLibrary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	full := req.GetBool("full", false)
	return outcomeResult(s.syncer.RunFullCycle(ctx, engine.RunOptions{FullScan: full}))
}

func (s *Server) syncItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return outcomeResult(s.syncer.RunSingleRecord(ctx, strings.TrimSpace(key)))
}

func (s *Server) syncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.MarshalIndent(s.syncer.Status(), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) clearSyncState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.syncer.ClearAllBaselines(ctx); err != nil {
		if errors.Is(err, apperr.ErrSyncInProgress) {
			return mcp.NewToolResultError("sync in progress, try again later"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("sync state cleared"), nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path := s.syncer.DocumentPath(strings.TrimSpace(key))
	data, err := s.store.Read(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.store.List(s.syncer.Folder(), "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(docs) == 0 {
		return mcp.NewToolResultText("no documents"), nil
	}
	paths := make([]string, 0, len(docs))
	for _, d := range docs {
		paths = append(paths, d.Path)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     DocumentFormat,
		},
	}, nil
}
