package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/atelier/pkg/codec"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/tool"
	"github.com/m-mizutani/atelier/pkg/usecase/gallery"
	"github.com/m-mizutani/atelier/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server exposes the generation history of tools to MCP clients
type Server struct {
	registry *tool.Registry
	gallery  *gallery.UseCase
	server   *mcp.Server
}

type toolParams struct {
	Tool string `json:"tool" jsonschema:"Tool name, one of the names returned by list_tools"`
}

type recordParams struct {
	Tool string `json:"tool" jsonschema:"Tool name, one of the names returned by list_tools"`
	ID   string `json:"id" jsonschema:"Generation record ID returned by list_history"`
}

// NewServer creates an MCP server with the history tools registered
func NewServer(registry *tool.Registry, uc *gallery.UseCase, version string) *Server {
	s := &Server{
		registry: registry,
		gallery:  uc,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "atelier",
			Version: version,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_tools",
		Description: "List image tools with their input slots and variants",
	}, s.listTools)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_history",
		Description: "List saved generations of a tool, newest first",
	}, s.listHistory)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "show_history",
		Description: "Show parameters and output images of a saved generation",
	}, s.showHistory)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_history",
		Description: "Delete a saved generation",
	}, s.deleteHistory)

	return s
}

// Run serves on stdio until the client disconnects
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "mcp server stopped")
	}
	return nil
}

// Connect serves one session on transport
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	session, err := s.server.Connect(ctx, transport, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect mcp session")
	}
	return session, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func (s *Server) listTools(ctx context.Context, req *mcp.CallToolRequest, _ *struct{}) (*mcp.CallToolResult, any, error) {
	var b strings.Builder
	for _, def := range s.registry.List() {
		slots := make([]string, 0, len(def.Slots))
		for _, slot := range def.Slots {
			slots = append(slots, slot.Name)
		}
		variants := make([]string, 0, len(def.Variants))
		for _, v := range def.Variants {
			variants = append(variants, v.Tag)
		}
		fmt.Fprintf(&b, "%s (%s): %s\n  slots: %s\n  variants: %s\n",
			def.Name, def.Mode, def.Description, strings.Join(slots, ", "), strings.Join(variants, ", "))
	}
	return textResult(b.String()), nil, nil
}

func (s *Server) listHistory(ctx context.Context, req *mcp.CallToolRequest, params *toolParams) (*mcp.CallToolResult, any, error) {
	def, err := s.registry.Get(params.Tool)
	if err != nil {
		return nil, nil, err
	}

	summaries, err := s.gallery.List(ctx, def)
	if err != nil {
		return nil, nil, err
	}
	if len(summaries) == 0 {
		return textResult(fmt.Sprintf("No generation history found for %s", def.Name)), nil, nil
	}

	var b strings.Builder
	for _, sum := range summaries {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n",
			sum.ID, sum.CreatedAt.Format("2006-01-02 15:04:05"), strings.Join(sum.Tags, ","), sum.Prompt)
	}
	return textResult(b.String()), nil, nil
}

func (s *Server) showHistory(ctx context.Context, req *mcp.CallToolRequest, params *recordParams) (*mcp.CallToolResult, any, error) {
	def, err := s.registry.Get(params.Tool)
	if err != nil {
		return nil, nil, err
	}

	record, err := s.gallery.Show(ctx, def, model.RecordID(params.ID))
	if err != nil {
		return nil, nil, err
	}

	meta, err := json.Marshal(map[string]any{
		"id":         record.ID,
		"tool":       record.Tool,
		"created_at": record.CreatedAt(),
		"params":     record.Params,
	})
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal record")
	}

	result := textResult(string(meta))
	for _, out := range record.Outputs {
		data, mimeType, err := codec.Bytes(out.Image)
		if err != nil {
			logging.From(ctx).Warn("skip broken output", "id", record.ID, "tag", out.Tag, logging.ErrAttr(err))
			continue
		}
		result.Content = append(result.Content,
			&mcp.TextContent{Text: out.Tag},
			&mcp.ImageContent{Data: data, MIMEType: mimeType},
		)
	}
	return result, nil, nil
}

func (s *Server) deleteHistory(ctx context.Context, req *mcp.CallToolRequest, params *recordParams) (*mcp.CallToolResult, any, error) {
	def, err := s.registry.Get(params.Tool)
	if err != nil {
		return nil, nil, err
	}

	if err := s.gallery.Delete(ctx, def, model.RecordID(params.ID)); err != nil {
		return nil, nil, err
	}
	return textResult(fmt.Sprintf("Deleted %s", params.ID)), nil, nil
}
