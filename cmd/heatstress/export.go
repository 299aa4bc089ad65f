package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/heatstress-map/internal/core/config"
	"github.com/mohammed-shakir/heatstress-map/internal/objects"
)

func newExportCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the committed objects from the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := objects.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg := config.FromEnv()
			logger := newLogger(cfg)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			store, closeStore, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			objs, err := store.Load(ctx)
			if err != nil {
				return fmt.Errorf("load committed objects: %w", err)
			}
			file, err := objects.Export(objs, f, cfg.Objects.AppSignature, time.Now())
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(file.Data)
				return err
			}
			if out == "." {
				out = file.Filename
			}
			if err := os.WriteFile(out, file.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			logger.Info("objects exported", "file", out, "format", f)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "geojson", "geojson or json")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file; '.' uses the generated name, empty writes stdout")
	return cmd
}
