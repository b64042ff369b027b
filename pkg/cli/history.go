package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/atelier/pkg/codec"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/tool"
	"github.com/m-mizutani/atelier/pkg/usecase/gallery"
	"github.com/m-mizutani/atelier/pkg/usecase/restore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Browse and manage generation history of a tool",
		Commands: []*cli.Command{
			historyListCommand(),
			historyShowCommand(),
			historyDeleteCommand(),
			historyClearCommand(),
			historyRestoreCommand(),
		},
	}
}

func toolFlag(toolName *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "tool",
		Aliases:     []string{"t"},
		Usage:       "Tool name",
		Sources:     cli.EnvVars("ATELIER_TOOL"),
		Destination: toolName,
		Required:    true,
	}
}

func recordIDFlag(id *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "id",
		Usage:       "Generation record ID",
		Destination: id,
		Required:    true,
	}
}

// openGallery resolves the tool and opens its history
func (cfg *config) openGallery(ctx context.Context, c *cli.Command, toolName string) (context.Context, *gallery.UseCase, *tool.Definition, func(), error) {
	ctx, err := cfg.setupLogger(ctx, c)
	if err != nil {
		return ctx, nil, nil, nil, err
	}

	registry, err := cfg.newRegistry()
	if err != nil {
		return ctx, nil, nil, nil, err
	}
	def, err := registry.Get(toolName)
	if err != nil {
		return ctx, nil, nil, nil, err
	}

	stores, closer, err := cfg.newStores(ctx)
	if err != nil {
		return ctx, nil, nil, nil, err
	}

	return ctx, gallery.New(stores), def, closer, nil
}

func historyListCommand() *cli.Command {
	var (
		cfg      config
		toolName string
	)

	flags := []cli.Flag{toolFlag(&toolName)}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List saved generations, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, uc, def, closer, err := cfg.openGallery(ctx, c, toolName)
			if err != nil {
				return err
			}
			defer closer()

			summaries, err := uc.List(ctx, def)
			if err != nil {
				return goerr.Wrap(err, "failed to list history")
			}

			if len(summaries) == 0 {
				fmt.Fprintf(c.Root().Writer, "No generation history found for %s\n", def.Name)
				return nil
			}

			for _, s := range summaries {
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\t%s\n",
					s.ID,
					s.CreatedAt.Format("2006-01-02 15:04:05"),
					strings.Join(s.Tags, ","),
					s.Prompt,
				)
			}

			return nil
		},
	}
}

// recordView is a record with image payloads replaced by their size
type recordView struct {
	ID        model.RecordID `json:"id"`
	Tool      string         `json:"tool"`
	CreatedAt string         `json:"created_at"`
	Params    model.Params   `json:"params"`
	Inputs    []imageView    `json:"inputs"`
	Outputs   []imageView    `json:"outputs"`
}

type imageView struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
}

func newImageView(name string, img model.PersistedImage) imageView {
	v := imageView{Name: name, Size: len(img)}
	v.MIMEType, _ = img.MIMEType()
	return v
}

func historyShowCommand() *cli.Command {
	var (
		cfg      config
		toolName string
		id       string
	)

	flags := []cli.Flag{toolFlag(&toolName), recordIDFlag(&id)}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Show a saved generation",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, uc, def, closer, err := cfg.openGallery(ctx, c, toolName)
			if err != nil {
				return err
			}
			defer closer()

			record, err := uc.Show(ctx, def, model.RecordID(id))
			if err != nil {
				return goerr.Wrap(err, "failed to show history")
			}

			view := recordView{
				ID:        record.ID,
				Tool:      record.Tool,
				CreatedAt: record.CreatedAt().Format("2006-01-02 15:04:05"),
				Params:    record.Params,
			}
			for _, in := range record.Inputs {
				view.Inputs = append(view.Inputs, newImageView(in.Slot, in.Image))
			}
			for _, out := range record.Outputs {
				view.Outputs = append(view.Outputs, newImageView(out.Tag, out.Image))
			}

			data, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return goerr.Wrap(err, "failed to marshal record")
			}

			fmt.Fprintf(c.Root().Writer, "%s\n", string(data))
			return nil
		},
	}
}

func historyDeleteCommand() *cli.Command {
	var (
		cfg      config
		toolName string
		id       string
	)

	flags := []cli.Flag{toolFlag(&toolName), recordIDFlag(&id)}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "delete",
		Usage: "Delete a saved generation",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, uc, def, closer, err := cfg.openGallery(ctx, c, toolName)
			if err != nil {
				return err
			}
			defer closer()

			if err := uc.Delete(ctx, def, model.RecordID(id)); err != nil {
				return goerr.Wrap(err, "failed to delete history")
			}

			fmt.Fprintf(c.Root().Writer, "Deleted %s\n", id)
			return nil
		},
	}
}

func historyClearCommand() *cli.Command {
	var (
		cfg      config
		toolName string
		yes      bool
	)

	flags := []cli.Flag{
		toolFlag(&toolName),
		&cli.BoolFlag{
			Name:        "yes",
			Aliases:     []string{"y"},
			Usage:       "Skip confirmation",
			Destination: &yes,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "clear",
		Usage: "Delete all saved generations of a tool",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, uc, def, closer, err := cfg.openGallery(ctx, c, toolName)
			if err != nil {
				return err
			}
			defer closer()

			if !yes {
				ok, err := confirm(c, fmt.Sprintf("Delete all history of %s? [y/N] ", def.Name))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(c.Root().Writer, "Canceled")
					return nil
				}
			}

			n, err := uc.Clear(ctx, def)
			if err != nil {
				return goerr.Wrap(err, "failed to clear history")
			}

			fmt.Fprintf(c.Root().Writer, "Deleted %d generations of %s\n", n, def.Name)
			return nil
		},
	}
}

// confirm asks a yes/no question on the command input
func confirm(c *cli.Command, prompt string) (bool, error) {
	var in io.Reader = os.Stdin
	if c.Root().Reader != nil {
		in = c.Root().Reader
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt: prompt,
		Stdin:  io.NopCloser(in),
		Stdout: c.Root().Writer,
	})
	if err != nil {
		return false, goerr.Wrap(err, "failed to create readline")
	}
	defer rl.Close()

	line, err := rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to read answer")
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func historyRestoreCommand() *cli.Command {
	var (
		cfg        config
		toolName   string
		id         string
		output     string
		regenerate bool
	)

	flags := []cli.Flag{
		toolFlag(&toolName),
		recordIDFlag(&id),
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Directory to write restored images",
			Value:       ".",
			Destination: &output,
		},
		&cli.BoolFlag{
			Name:        "regenerate",
			Usage:       "Submit the restored inputs and parameters again",
			Destination: &regenerate,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "restore",
		Usage: "Restore a saved generation, optionally generating it again",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx, c)
			if err != nil {
				return err
			}

			registry, err := cfg.newRegistry()
			if err != nil {
				return err
			}
			def, err := registry.Get(toolName)
			if err != nil {
				return err
			}

			stores, closer, err := cfg.newStores(ctx)
			if err != nil {
				return err
			}
			defer closer()

			state, err := restore.Load(ctx, stores.For(def.HistoryNamespace(), def.MaxHistory), id)
			if err != nil {
				return goerr.Wrap(err, "could not load this item", goerr.V("id", id))
			}
			defer state.Release()

			paths, err := writeState(output, state)
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Fprintln(c.Root().Writer, path)
			}

			if !regenerate {
				return nil
			}

			uc, err := cfg.newGeneration(ctx, stores)
			if err != nil {
				return err
			}

			result, err := uc.Run(ctx, def, state.Request(def))
			if err != nil {
				return goerr.Wrap(err, "failed to generate")
			}
			if result.StorageWarning != nil {
				fmt.Fprintf(errWriter(c), "warning: generation is not saved to history: %s\n", result.StorageWarning)
			}

			outputs, err := writeOutputs(output, result.Record)
			if err != nil {
				return err
			}
			for i, path := range outputs {
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\n", result.Record.ID, result.Record.Outputs[i].Tag, path)
			}
			return nil
		},
	}
}

// writeState writes the restored inputs and outputs under dir/<id>/
func writeState(dir string, state *restore.ToolState) ([]string, error) {
	base := filepath.Join(dir, string(state.RecordID))
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create output directory", goerr.V("dir", base))
	}

	var paths []string
	save := func(name string, img model.Image) error {
		data, mimeType, err := codec.Bytes(img)
		if err != nil {
			return err
		}
		path := filepath.Join(base, name+codec.Extension(mimeType))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return goerr.Wrap(err, "failed to write restored image", goerr.V("path", path))
		}
		paths = append(paths, path)
		return nil
	}

	for i, in := range state.Inputs {
		if err := save(fmt.Sprintf("input-%02d-%s", i, in.Slot), in.Image); err != nil {
			return paths, err
		}
	}
	for i, out := range state.Outputs {
		if err := save(fmt.Sprintf("output-%02d-%s", i, out.Tag), out.Image); err != nil {
			return paths, err
		}
	}

	return paths, nil
}
