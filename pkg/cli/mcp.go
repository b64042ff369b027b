package cli

import (
	"context"

	"github.com/m-mizutani/atelier/pkg/service/mcp"
	"github.com/m-mizutani/atelier/pkg/usecase/gallery"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve generation history to MCP clients on stdio",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx, c)
			if err != nil {
				return err
			}

			registry, err := cfg.newRegistry()
			if err != nil {
				return err
			}

			stores, closer, err := cfg.newStores(ctx)
			if err != nil {
				return err
			}
			defer closer()

			return mcp.NewServer(registry, gallery.New(stores), version).Run(ctx)
		},
	}
}
