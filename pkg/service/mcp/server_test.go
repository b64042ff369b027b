package mcp_test

import (
	"context"
	"strings"
	"testing"

	"github.com/m-mizutani/atelier/pkg/codec"
	"github.com/m-mizutani/atelier/pkg/history"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/repository"
	"github.com/m-mizutani/atelier/pkg/service/mcp"
	"github.com/m-mizutani/atelier/pkg/tool"
	"github.com/m-mizutani/atelier/pkg/usecase/gallery"
	"github.com/m-mizutani/gt"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func setup(t *testing.T) *mcpsdk.ClientSession {
	ctx := context.Background()
	registry := tool.Builtin()
	def, err := registry.Get("composer")
	gt.NoError(t, err)

	stores := history.NewStores[*model.GenerationRecord](repository.NewMemory())
	out, err := codec.Encode(model.NewLiveImage("image/png", []byte("merged")))
	gt.NoError(t, err)
	gt.NoError(t, stores.For(def.HistoryNamespace(), def.MaxHistory).Insert(ctx, &model.GenerationRecord{
		ID:        "rec-1",
		Tool:      def.Name,
		Timestamp: 1700000000000,
		Params:    model.Params{Prompt: "put the vase on the table"},
		Outputs:   []*model.Output{{Tag: "compose", Image: out}},
	}))

	server := mcp.NewServer(registry, gallery.New(stores), "test")
	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, serverTransport)
	gt.NoError(t, err)
	t.Cleanup(func() { serverSession.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return session
}

func callText(t *testing.T, session *mcpsdk.ClientSession, name string, args map[string]any) (*mcpsdk.CallToolResult, string) {
	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	gt.NoError(t, err)
	gt.True(t, len(result.Content) > 0)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	gt.True(t, ok)
	return result, text.Text
}

func TestListTools(t *testing.T) {
	session := setup(t)

	tools, err := session.ListTools(context.Background(), nil)
	gt.NoError(t, err)
	gt.A(t, tools.Tools).Length(4)

	_, text := callText(t, session, "list_tools", map[string]any{})
	gt.True(t, strings.Contains(text, "clone-shoot (chain)"))
}

func TestHistoryTools(t *testing.T) {
	session := setup(t)

	_, text := callText(t, session, "list_history", map[string]any{"tool": "composer"})
	gt.True(t, strings.HasPrefix(text, "rec-1\t"))

	result, text := callText(t, session, "show_history", map[string]any{"tool": "composer", "id": "rec-1"})
	gt.True(t, strings.Contains(text, "put the vase on the table"))
	gt.A(t, result.Content).Length(3)
	img, ok := result.Content[2].(*mcpsdk.ImageContent)
	gt.True(t, ok)
	gt.Equal(t, img.MIMEType, "image/png")
	gt.Equal(t, string(img.Data), "merged")

	_, text = callText(t, session, "delete_history", map[string]any{"tool": "composer", "id": "rec-1"})
	gt.Equal(t, text, "Deleted rec-1")

	_, text = callText(t, session, "list_history", map[string]any{"tool": "composer"})
	gt.True(t, strings.Contains(text, "No generation history"))
}

func TestUnknownTool(t *testing.T) {
	session := setup(t)

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "list_history",
		Arguments: map[string]any{"tool": "nope"},
	})
	gt.True(t, err != nil || result.IsError)
}
