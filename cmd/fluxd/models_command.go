package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/seantiz/fluxd/internal/assets"
	"github.com/seantiz/fluxd/internal/model"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and install model weights",
	}

	modelsCmd.AddCommand(newModelsListCommand(ctx))
	modelsCmd.AddCommand(newModelsDownloadCommand(ctx))
	modelsCmd.AddCommand(newModelsImportCommand(ctx))

	return modelsCmd
}

func (c *commandContext) assetManager() (*assets.Manager, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return assets.NewManager(assets.Options{
		ModelDir: cfg.Paths.Models,
		Token:    cfg.HuggingFaceToken,
	}, assets.DefaultCatalog(), c.logger()), nil
}

func newModelsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalog models and whether they are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ctx.assetManager()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderModels(m.List()))
			return nil
		},
	}
}

func renderModels(list []assets.Status) string {
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		size := "-"
		if s.State == model.AssetInstalled {
			size = s.SizeHuman
		}
		name := s.Name
		if s.Gated {
			name += " (gated)"
		}
		rows = append(rows, []string{name, s.Dir, s.State, size, s.Description})
	}
	return renderTable(
		[]string{"Name", "Dir", "State", "Size", "Description"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func newModelsDownloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "download <name>...",
		Short: "Download model weights and wait for them to finish",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ctx.assetManager()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			for _, name := range args {
				st, err := m.StartDownload(name)
				if err != nil {
					return err
				}
				if st.State == model.AssetInstalled {
					fmt.Fprintf(out, "%s already installed\n", name)
					continue
				}
				fmt.Fprintf(out, "downloading %s\n", name)
			}
			m.Wait()

			var failed []string
			for _, name := range args {
				st, err := m.Status(name)
				if err != nil {
					return err
				}
				if st.State != model.AssetInstalled {
					failed = append(failed, fmt.Sprintf("%s: %s", name, st.Error))
					continue
				}
				fmt.Fprintf(out, "%s installed (%s)\n", name, st.SizeHuman)
			}
			if len(failed) > 0 {
				return errors.New("download failed:\n  " + strings.Join(failed, "\n  "))
			}
			return nil
		},
	}
}

func newModelsImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <dir>",
		Short: "Copy catalog model files found in a local directory into place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ctx.assetManager()
			if err != nil {
				return err
			}
			imported, err := m.ImportDir(args[0])
			out := cmd.OutOrStdout()
			var total uint64
			for _, name := range imported {
				if st, serr := m.Status(name); serr == nil {
					total += uint64(st.Size)
				}
			}
			if len(imported) == 0 {
				fmt.Fprintf(out, "no catalog models found in %s\n", args[0])
			} else {
				fmt.Fprintf(out, "imported %d model(s), %s: %s\n",
					len(imported), humanize.Bytes(total), strings.Join(imported, ", "))
			}
			return err
		},
	}
}
