// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes arvore family search tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/arvore/internal/apperr"
	"github.com/starford/arvore/internal/familysearch"
	"github.com/starford/arvore/internal/familyservice"
)

const personNodeFormatURI = "arvore://person-node-format"

// Server wraps the MCP server with arvore tools.
type Server struct {
	mcp *server.MCPServer
	svc *familyservice.Service
}

// New creates a new MCP server with all arvore tools registered.
func New(svc *familyservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"arvore",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_family",
		mcp.WithDescription("Search the family graph of a CPF: parents, spouses and children, "+
			"followed recursively up to maxDepth. Returns person nodes in the format described "+
			"by the "+personNodeFormatURI+" resource."),
		mcp.WithString("cpf", mcp.Required(), mcp.Description("CPF, formatted or digits only")),
		mcp.WithNumber("maxDepth", mcp.Description("Traversal depth (1-5, default 3)"), mcp.Min(1), mcp.Max(5)),
		mcp.WithBoolean("includeSpouses", mcp.Description("Follow spouse links (default true)")),
		mcp.WithNumber("cacheExpiry", mcp.Description("Cache TTL in seconds, 0 skips the cache write (default 86400)"), mcp.Min(0)),
	), s.searchFamily)

	s.mcp.AddTool(mcp.NewTool("search_families",
		mcp.WithDescription("Search the family graphs of up to 10 CPFs. Returns an object keyed by the given CPFs."),
		mcp.WithArray("cpfs", mcp.Required(), mcp.Description("CPFs to search"), mcp.WithStringItems()),
		mcp.WithNumber("maxDepth", mcp.Description("Traversal depth (1-5, default 3)"), mcp.Min(1), mcp.Max(5)),
		mcp.WithBoolean("includeSpouses", mcp.Description("Follow spouse links (default true)")),
	), s.searchFamilies)

	s.mcp.AddTool(mcp.NewTool("get_family_tree",
		mcp.WithDescription("Read the stored family tree around a person id returned by import_family."),
		mcp.WithString("personId", mcp.Required(), mcp.Description("Stored person id")),
	), s.getFamilyTree)

	s.mcp.AddTool(mcp.NewTool("import_family",
		mcp.WithDescription("Search a CPF and store the resulting family graph."),
		mcp.WithString("cpf", mcp.Required(), mcp.Description("CPF, formatted or digits only")),
		mcp.WithNumber("maxDepth", mcp.Description("Traversal depth (1-5, default 3)"), mcp.Min(1), mcp.Max(5)),
		mcp.WithBoolean("includeSpouses", mcp.Description("Follow spouse links (default true)")),
	), s.importFamily)

	s.mcp.AddTool(mcp.NewTool("clear_family_cache",
		mcp.WithDescription("Drop cached searches of one CPF, or of every CPF when cpf is empty."),
		mcp.WithString("cpf", mcp.Description("CPF to clear (empty for all)")),
	), s.clearFamilyCache)

	s.mcp.AddTool(mcp.NewTool("list_people",
		mcp.WithDescription("List stored people, optionally filtered by name."),
		mcp.WithString("search", mcp.Description("Name filter")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listPeople)

	// Resource: person node format.
	s.mcp.AddResource(
		mcp.NewResource(personNodeFormatURI, "Person Node Format",
			mcp.WithResourceDescription("JSON shape of the person nodes returned by the family tools."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPersonNodeFormat,
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

// searchOptions reads the optional search arguments of req.
func searchOptions(req mcp.CallToolRequest, defaults familysearch.Options) familysearch.Options {
	opts := defaults
	opts.MaxDepth = req.GetInt("maxDepth", opts.MaxDepth)
	opts.IncludeSpouses = req.GetBool("includeSpouses", opts.IncludeSpouses)
	opts.CacheTTL = time.Duration(req.GetInt("cacheExpiry", int(opts.CacheTTL/time.Second))) * time.Second
	return opts
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) searchFamily(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cpf, err := req.RequireString("cpf")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := searchOptions(req, s.svc.Defaults())
	if err := opts.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	nodes, err := s.svc.Search(ctx, cpf, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(nodes) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("no family data found for %s", cpf)), nil
	}
	return jsonResult(nodes)
}

func (s *Server) searchFamilies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cpfs, err := req.RequireStringSlice("cpfs")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := searchOptions(req, s.svc.Defaults())
	if err := opts.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.SearchMany(ctx, cpfs, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) getFamilyTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("personId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	nodes, err := s.svc.Tree(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(nodes)
}

func (s *Server) importFamily(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cpf, err := req.RequireString("cpf")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := searchOptions(req, s.svc.Defaults())
	if err := opts.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Import(ctx, cpf, opts)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("no family data found for %s", cpf)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) clearFamilyCache(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cpf := req.GetString("cpf", "")

	var (
		n   int
		err error
	)
	if cpf == "" {
		n, err = s.svc.ClearAllCache(ctx)
	} else {
		n, err = s.svc.ClearCache(ctx, cpf)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("removed %d cached searches", n)), nil
}

func (s *Server) listPeople(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 50)
	offset := req.GetInt("offset", 0)
	if limit < 0 || offset < 0 {
		return mcp.NewToolResultError("limit and offset must not be negative"), nil
	}
	items, total, err := s.svc.ListPeople(ctx, req.GetString("search", ""), limit, offset)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if items == nil {
		items = []familyservice.PersonListItem{}
	}
	return jsonResult(map[string]any{
		"people": items,
		"total":  total,
	})
}

func (s *Server) readPersonNodeFormat(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      personNodeFormatURI,
			MIMEType: "text/markdown",
			Text:     PersonNodeFormat,
		},
	}, nil
}
