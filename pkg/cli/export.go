package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/atelier/pkg/adapter"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func exportCommand() *cli.Command {
	var (
		cfg      config
		toolName string
		ids      []string
		toDir    string
		toBucket string
		prefix   string
	)

	flags := []cli.Flag{
		toolFlag(&toolName),
		&cli.StringSliceFlag{
			Name:        "id",
			Usage:       "Generation record ID to export, repeatable. All records when omitted",
			Destination: &ids,
		},
		&cli.StringFlag{
			Name:        "to-dir",
			Usage:       "Export into a local directory",
			Destination: &toDir,
		},
		&cli.StringFlag{
			Name:        "to-bucket",
			Usage:       "Export into a Cloud Storage bucket",
			Sources:     cli.EnvVars("ATELIER_EXPORT_BUCKET"),
			Destination: &toBucket,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "Object prefix in the export bucket",
			Value:       "exports",
			Destination: &prefix,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "export",
		Usage: "Export saved generations as image files",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if (toDir == "") == (toBucket == "") {
				return goerr.New("exactly one of to-dir or to-bucket is required")
			}

			ctx, uc, def, closer, err := cfg.openGallery(ctx, c, toolName)
			if err != nil {
				return err
			}
			defer closer()

			var storage adapter.Storage
			if toBucket != "" {
				storage, err = adapter.NewStorage(ctx, toBucket, prefix)
			} else {
				storage, err = adapter.NewFileStorage(toDir)
			}
			if err != nil {
				return err
			}

			recordIDs := make([]model.RecordID, 0, len(ids))
			for _, id := range ids {
				recordIDs = append(recordIDs, model.RecordID(id))
			}

			keys, err := uc.Export(ctx, def, storage, recordIDs...)
			if err != nil {
				return goerr.Wrap(err, "failed to export history")
			}
			for _, key := range keys {
				fmt.Fprintln(c.Root().Writer, key)
			}
			return nil
		},
	}
}
