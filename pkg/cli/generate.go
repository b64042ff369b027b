package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/atelier/pkg/codec"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func generateCommand() *cli.Command {
	var (
		cfg      config
		toolName string
		inputs   []string
		params   []string
		variants []string
		prompt   string
		mode     string
		style    string
		output   string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "tool",
			Aliases:     []string{"t"},
			Usage:       "Tool name",
			Sources:     cli.EnvVars("ATELIER_TOOL"),
			Destination: &toolName,
			Required:    true,
		},
		&cli.StringSliceFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Input image as slot=path, repeatable",
			Destination: &inputs,
		},
		&cli.StringFlag{
			Name:        "prompt",
			Usage:       "Additional instruction",
			Destination: &prompt,
		},
		&cli.StringFlag{
			Name:        "mode",
			Usage:       "Mode selection of the tool",
			Destination: &mode,
		},
		&cli.StringFlag{
			Name:        "style",
			Usage:       "Style instruction",
			Destination: &style,
		},
		&cli.StringSliceFlag{
			Name:        "param",
			Usage:       "Extra parameter as key=value, repeatable",
			Destination: &params,
		},
		&cli.StringSliceFlag{
			Name:        "variant",
			Aliases:     []string{"v"},
			Usage:       "Variant to generate, repeatable. All variants of the tool when omitted. Chain tools take none",
			Destination: &variants,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Directory to write generated images",
			Value:       ".",
			Destination: &output,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "generate",
		Usage: "Generate images with a tool and save them to history",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx, c)
			if err != nil {
				return err
			}

			// Initialize dependencies
			registry, err := cfg.newRegistry()
			if err != nil {
				return err
			}
			def, err := registry.Get(toolName)
			if err != nil {
				return err
			}

			extra, err := parsePairs(params)
			if err != nil {
				return err
			}

			images, err := loadInputs(inputs)
			defer func() {
				for _, in := range images {
					in.Image.(*model.LiveImage).Release()
				}
			}()
			if err != nil {
				return err
			}

			stores, closer, err := cfg.newStores(ctx)
			if err != nil {
				return err
			}
			defer closer()

			uc, err := cfg.newGeneration(ctx, stores)
			if err != nil {
				return err
			}

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(errWriter(c)))
			s.Suffix = fmt.Sprintf(" generating with %s...", def.Name)
			s.Start()
			result, err := uc.Run(ctx, def, &model.GenerationRequest{
				Inputs: images,
				Params: model.Params{
					Prompt: prompt,
					Mode:   mode,
					Style:  style,
					Extra:  extra,
				},
				Variants: variants,
			})
			s.Stop()
			if err != nil {
				return goerr.Wrap(err, "failed to generate")
			}

			if result.StorageWarning != nil {
				fmt.Fprintf(errWriter(c), "warning: generation is not saved to history: %s\n", result.StorageWarning)
			}

			paths, err := writeOutputs(output, result.Record)
			if err != nil {
				return err
			}
			for i, path := range paths {
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\n", result.Record.ID, result.Record.Outputs[i].Tag, path)
			}

			logging.From(ctx).Debug("outputs written", "dir", output, "count", len(paths))
			return nil
		},
	}
}

// loadInputs reads slot=path arguments. Loaded images are returned even on
// error so that the caller can release them.
func loadInputs(args []string) ([]*model.CallImage, error) {
	var images []*model.CallImage
	for _, arg := range args {
		slot, path, ok := strings.Cut(arg, "=")
		if !ok || slot == "" || path == "" {
			return images, goerr.New("input must be slot=path", goerr.T(model.TagValidation), goerr.V("input", arg))
		}

		img, err := codec.Load(path)
		if err != nil {
			return images, goerr.Wrap(err, "failed to load input image", goerr.V("slot", slot))
		}
		images = append(images, &model.CallImage{Slot: slot, Image: img})
	}
	return images, nil
}

func parsePairs(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}

	pairs := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, goerr.New("parameter must be key=value", goerr.T(model.TagValidation), goerr.V("param", arg))
		}
		pairs[k] = v
	}
	return pairs, nil
}

// writeOutputs writes every output image of record into dir and returns
// the file paths in output order
func writeOutputs(dir string, record *model.GenerationRecord) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create output directory", goerr.V("dir", dir))
	}

	paths := make([]string, 0, len(record.Outputs))
	for i, out := range record.Outputs {
		data, mimeType, err := codec.Bytes(out.Image)
		if err != nil {
			return paths, goerr.Wrap(err, "failed to decode output", goerr.V("tag", out.Tag))
		}

		name := fmt.Sprintf("%s-%02d-%s%s", record.ID, i, out.Tag, codec.Extension(mimeType))
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, goerr.Wrap(err, "failed to write output", goerr.V("path", path))
		}
		paths = append(paths, path)
	}
	return paths, nil
}
