// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes quill tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/imagesub"
	"github.com/starford/quill/internal/importer"
	"github.com/starford/quill/internal/noteservice"
	"github.com/starford/quill/internal/storage"
)

// ContractURI identifies the markup contract resource.
const ContractURI = "quill://markup-contract"

// Importer converts a web page to Markdown.
type Importer interface {
	Import(ctx context.Context, rawURL string) (*importer.Document, error)
}

// Server wraps the MCP server with quill tools.
type Server struct {
	mcp       *server.MCPServer
	svc       *noteservice.Service
	store     *storage.FS
	importer  Importer
	fetcher   imagesub.Fetcher
	attachDir string
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithImporter enables the import_url tool.
func WithImporter(im Importer) Option {
	return func(s *Server) { s.importer = im }
}

// WithFetcher lets save_image download remote images.
func WithFetcher(f imagesub.Fetcher) Option {
	return func(s *Server) { s.fetcher = f }
}

// WithAttachmentDir sets where save_image stores files.
func WithAttachmentDir(dir string) Option {
	return func(s *Server) { s.attachDir = strings.Trim(dir, "/") }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new MCP server with all quill tools registered.
func New(svc *noteservice.Service, store *storage.FS, opts ...Option) *Server {
	s := &Server{svc: svc, store: store, attachDir: "attachments", logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}

	s.mcp = server.NewMCPServer(
		"quill",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("render_note",
		mcp.WithDescription("Render a vault note to editor-ready HTML. Wiki links, embeds and image paths are "+
			"resolved against the vault first. Returns JSON with title, html and warnings."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path of the note (e.g. posts/hello.md)")),
	), s.renderNote)

	s.mcp.AddTool(mcp.NewTool("render_markdown",
		mcp.WithDescription("Render inline Markdown as if it lived at the vault root."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown following the markup contract")),
		mcp.WithBoolean("remove_tags", mcp.Description("Strip inline #tags before rendering")),
	), s.renderMarkdown)

	s.mcp.AddTool(mcp.NewTool("resolve_reference",
		mcp.WithDescription("Resolve a link target the way [[target]] and ![[target]] are resolved."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Link text, file name or vault path")),
		mcp.WithString("from", mcp.Description("Path of the note containing the link")),
	), s.resolveReference)

	s.mcp.AddTool(mcp.NewTool("publish_note",
		mcp.WithDescription("Render a note and create a draft in each selected account. "+
			"Without accounts every enabled account is used. Returns per-account results."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path of the note")),
		mcp.WithString("accounts", mcp.Description("Comma-separated account names or app ids")),
	), s.publishNote)

	s.mcp.AddTool(mcp.NewTool("list_drafts",
		mcp.WithDescription("List created drafts, newest first."),
		mcp.WithString("path", mcp.Description("Only drafts of this note")),
	), s.listDrafts)

	s.mcp.AddTool(mcp.NewTool("import_url",
		mcp.WithDescription("Fetch a web page and convert it to Markdown. With save=true the result is "+
			"written to the vault."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL of the page")),
		mcp.WithBoolean("save", mcp.Description("Write the Markdown into the vault")),
		mcp.WithString("dir", mcp.Description("Vault folder for saved pages")),
	), s.importURL)

	s.mcp.AddTool(mcp.NewTool("save_image",
		mcp.WithDescription("Store an image (http(s) URL or base64 data URI) in the vault attachment folder. "+
			"Returns the embed markup to paste into a note."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Image URL or data URI")),
		mcp.WithString("filename", mcp.Description("Optional file name, extension included")),
	), s.saveImage)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List all notes or notes in a specific folder."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the raw Markdown of a note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path of the note")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("get_markup_contract",
		mcp.WithDescription("Returns the markup quill understands. "+
			"Call this before writing notes meant for publishing."),
	), s.getMarkupContract)

	s.mcp.AddResource(
		mcp.NewResource(ContractURI, "Markup Contract",
			mcp.WithResourceDescription("Vault markup understood by the renderer and publisher."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found: " + err.Error())
	}
	return mcp.NewToolResultError(err.Error())
}

type renderOutput struct {
	Path     string   `json:"path,omitempty"`
	Title    string   `json:"title"`
	HTML     string   `json:"html"`
	Warnings []string `json:"warnings"`
}

func (s *Server) renderNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	r, err := s.svc.RenderFile(ctx, p, nil)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(renderOutput{Path: r.Path, Title: r.Title, HTML: r.HTML, Warnings: r.Warnings})
}

func (s *Server) renderMarkdown(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := s.svc.RewriteOptions()
	if v, bErr := req.RequireBool("remove_tags"); bErr == nil {
		opts.RemoveTags = v
	}
	r, err := s.svc.RenderText(ctx, content, &opts)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(renderOutput{Title: r.Title, HTML: r.HTML, Warnings: r.Warnings})
}

type resolveOutput struct {
	Name  string `json:"name"`
	Found bool   `json:"found"`
	Path  string `json:"path,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) resolveReference(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	from := ""
	if v, fErr := req.RequireString("from"); fErr == nil {
		from = v
	}
	f, ok := s.svc.Resolve(name, from)
	out := resolveOutput{Name: name, Found: ok}
	if ok {
		out.Path = f.Path
		switch {
		case f.IsDocument():
			out.Kind = "document"
		case f.IsImage():
			out.Kind = "image"
		default:
			out.Kind = "other"
		}
	}
	return jsonResult(out)
}

func (s *Server) publishNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var names []string
	if v, aErr := req.RequireString("accounts"); aErr == nil {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	results, err := s.svc.Publish(ctx, p, names)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(results)
}

func (s *Server) listDrafts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p := ""
	if v, err := req.RequireString("path"); err == nil {
		p = v
	}
	records, err := s.svc.History(ctx, p, 50)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(records)
}

type importOutput struct {
	*importer.Document
	Path string `json:"path,omitempty"`
}

func (s *Server) importURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.importer == nil {
		return mcp.NewToolResultError("import is disabled"), nil
	}
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.importer.Import(ctx, rawURL)
	if err != nil {
		return errorResult(err), nil
	}
	save, _ := req.RequireBool("save")
	if !save {
		return jsonResult(importOutput{Document: doc})
	}

	dir := ""
	if v, dErr := req.RequireString("dir"); dErr == nil {
		dir = strings.Trim(v, "/")
	}
	p := path.Join(dir, doc.Filename)
	if s.store.Exists(p) {
		return mcp.NewToolResultError(fmt.Sprintf("note already exists: %s", p)), nil
	}
	if err := s.store.Write(p, []byte(doc.Markdown)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.logger.Info("mcp: imported page saved", slog.String("url", doc.Source), slog.String("path", p))
	return jsonResult(importOutput{Document: doc, Path: p})
}

func (s *Server) listNotes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := ""
	if f, err := req.RequireString("folder"); err == nil {
		folder = f
	}

	metas, err := s.store.List(folder)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var paths []string
	for _, m := range metas {
		if strings.HasSuffix(m.Path, ".md") {
			paths = append(paths, m.Path)
		}
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) readNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.store.Read(p)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", p)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) getMarkupContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MarkupContract), nil
}

func (s *Server) readContractResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ContractURI,
			MIMEType: "text/markdown",
			Text:     MarkupContract,
		},
	}, nil
}
