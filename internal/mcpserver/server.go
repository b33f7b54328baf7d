// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the post browser's reads and writes via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/blogview/internal/board"
	"github.com/starford/blogview/internal/models"
	"github.com/starford/blogview/internal/query"
)

// CacheResourceURI lists the cached queries.
const CacheResourceURI = "blogview://cache"

// Server wraps the MCP server with the post tools.
type Server struct {
	mcp     *server.MCPServer
	cache   *query.Client
	src     board.Source
	maxPage int
}

// New creates a new MCP server with all tools registered. Reads go through
// cache; writes go to src and invalidate the cached pages.
func New(cache *query.Client, src board.Source, maxPage int) *Server {
	if maxPage < 1 {
		maxPage = board.DefaultMaxPage
	}
	s := &Server{cache: cache, src: src, maxPage: maxPage}

	s.mcp = server.NewMCPServer(
		"blogview",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_posts",
		mcp.WithDescription(fmt.Sprintf("List one page of blog posts as JSON. Pages run from 1 to %d.", maxPage)),
		mcp.WithNumber("page", mcp.Description("Page number, defaults to 1")),
	), s.listPosts)

	s.mcp.AddTool(mcp.NewTool("get_comments",
		mcp.WithDescription("List the comments of a post, one \"email: body\" line each."),
		mcp.WithNumber("post_id", mcp.Required(), mcp.Description("Post id")),
	), s.getComments)

	s.mcp.AddTool(mcp.NewTool("delete_post",
		mcp.WithDescription("Delete a post."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Post id")),
	), s.deletePost)

	s.mcp.AddTool(mcp.NewTool("update_post_title",
		mcp.WithDescription("Change the title of a post and return the updated post as JSON."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Post id")),
		mcp.WithString("title", mcp.Required(), mcp.Description("New title, 1 to 200 characters")),
	), s.updatePostTitle)

	s.mcp.AddResource(
		mcp.NewResource(CacheResourceURI, "Cached queries",
			mcp.WithResourceDescription("Query keys currently held by the cache with their last update time."),
			mcp.WithMIMEType("text/plain"),
		),
		s.readCacheResource,
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

func (s *Server) listPosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page := req.GetInt("page", 1)
	if page < 1 || page > s.maxPage {
		return mcp.NewToolResultError(fmt.Sprintf("page must be between 1 and %d", s.maxPage)), nil
	}
	posts, err := query.FetchAs(ctx, s.cache, board.PostsKey(page), func(ctx context.Context) ([]models.Post, error) {
		return s.src.FetchPosts(ctx, page)
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(posts, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getComments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("post_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	comments, err := query.FetchAs(ctx, s.cache, board.CommentsKey(id), func(ctx context.Context) ([]models.Comment, error) {
		return s.src.FetchComments(ctx, id)
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(comments) == 0 {
		return mcp.NewToolResultText("no comments found"), nil
	}
	lines := make([]string, 0, len(comments))
	for _, c := range comments {
		lines = append(lines, c.Email+": "+c.Body)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) deletePost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.src.DeletePost(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.cache.Invalidate(query.Key{"posts"})
	s.cache.Remove(board.CommentsKey(id))
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %d", id)), nil
}

func (s *Server) updatePostTitle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	vars := board.UpdateVars{ID: id, Title: strings.TrimSpace(title)}
	if err := vars.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	post, err := s.src.UpdatePost(ctx, vars.ID, vars.Title)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.cache.Invalidate(query.Key{"posts"})
	out, _ := json.MarshalIndent(post, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readCacheResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	var b strings.Builder
	for _, d := range s.cache.Dehydrate() {
		fmt.Fprintf(&b, "%s\t%s\n", d.Key, d.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      CacheResourceURI,
			MIMEType: "text/plain",
			Text:     b.String(),
		},
	}, nil
}
