// Package cli implements the gridz command-line interface.
//
// The CLI loads a grid definition from a TOML file, mounts a grid with the
// built-in features and any add-ons the file enables, and either prints the
// resulting layout or exports the grid state.
//
// # Commands
//
//   - layout: print the column and row layout of a grid definition
//   - export: print the exported grid state as YAML
//
// # Configuration
//
// Grid options in the file can be overridden from the environment with
// GRIDZ_-prefixed variables, for example GRIDZ_CONTAINER_WIDTH=1280.
package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// version is set with -ldflags at build time.
var version = "dev"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
}

// New creates a CLI that logs to w at level.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           level,
			Prefix:          "gridz",
		}),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "gridz",
		Short: "Inspect data grid layouts",
		Long: `gridz mounts a data grid from a TOML definition and shows what the
engine derives from it: column widths, row heights and positions, row
classes and the exportable grid state.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(c.layoutCommand())
	root.AddCommand(c.exportCommand())
	return root
}
