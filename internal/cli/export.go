package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zoobzio/gridz"
)

func (c *CLI) exportCommand() *cobra.Command {
	var (
		path      string
		dirtyOnly bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the exported state of a grid as YAML",
		Long: `Mount the grid described by a TOML file and print the state it would
export. The output can be fed back as the initial state of another grid.

With --dirty-only, models still at their defaults are left out.`,
		Example: `  gridz export -c grid.toml
  gridz export -c grid.toml --dirty-only > state.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runExport(cmd.Context(), path, dirtyOnly, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "grid.toml", "grid definition file")
	cmd.Flags().BoolVar(&dirtyOnly, "dirty-only", false, "only export models that differ from their defaults")
	return cmd
}

func (c *CLI) runExport(ctx context.Context, path string, dirtyOnly bool, w io.Writer) error {
	def, err := LoadDefinition(path)
	if err != nil {
		return err
	}
	m, err := mount(ctx, def, c.Logger)
	if err != nil {
		return err
	}
	defer m.grid.Close()

	st, err := m.grid.ExportState(ctx, gridz.ExportStateParams{ExportOnlyDirtyModels: dirtyOnly})
	if err != nil {
		return err
	}
	c.Logger.Debug("state exported", "dirty_only", dirtyOnly)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(st); err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	return enc.Close()
}
