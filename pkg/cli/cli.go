package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

const version = "0.1.0"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	if err := newApp().Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "atelier",
		Usage:   "Creative image tools with local generation history",
		Version: version,
		Commands: []*cli.Command{
			toolsCommand(),
			generateCommand(),
			historyCommand(),
			exportCommand(),
			mcpCommand(),
		},
	}
}
