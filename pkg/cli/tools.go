package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"
)

func toolsCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "tools",
		Usage: "List available tools",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			registry, err := cfg.newRegistry()
			if err != nil {
				return err
			}

			for _, def := range registry.List() {
				slots := make([]string, 0, len(def.Slots))
				for _, s := range def.Slots {
					name := s.Name
					if s.Required {
						name += "*"
					}
					if s.Max > 1 {
						name += fmt.Sprintf("(%d)", s.Max)
					}
					slots = append(slots, name)
				}

				variants := make([]string, 0, len(def.Variants))
				for _, v := range def.Variants {
					variants = append(variants, v.Tag)
				}

				fmt.Fprintf(c.Root().Writer, "%s\t%s\thistory=%d\tslots=%s\tvariants=%s\t%s\n",
					def.Name,
					def.Mode,
					def.MaxHistory,
					strings.Join(slots, ","),
					strings.Join(variants, ","),
					def.Description,
				)
			}

			return nil
		},
	}
}
