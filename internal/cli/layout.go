package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/zoobzio/gridz"
)

func (c *CLI) layoutCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Print the column and row layout of a grid",
		Long: `Mount the grid described by a TOML file and print the derived layout:
column widths and offsets, then the height, top offset and classes of every
row on the current page.`,
		Example: `  gridz layout -c grid.toml
  GRIDZ_CONTAINER_WIDTH=1280 gridz layout -c grid.toml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runLayout(cmd.Context(), path, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "grid.toml", "grid definition file")
	return cmd
}

func (c *CLI) runLayout(ctx context.Context, path string, w io.Writer) error {
	def, err := LoadDefinition(path)
	if err != nil {
		return err
	}
	m, err := mount(ctx, def, c.Logger)
	if err != nil {
		return err
	}
	defer m.grid.Close()

	rows, err := rowLayout(ctx, m.grid)
	if err != nil {
		return err
	}
	meta := m.grid.RowsMeta().RowsMeta()

	fmt.Fprintln(w, StyleTitle.Render("Columns"))
	fmt.Fprintln(w, columnsTable(m.grid.Columns().ColumnsState()))
	fmt.Fprintf(w, "%s %s\n\n", StyleDim.Render("total width"), StyleNumber.Render(formatPx(m.grid.Columns().TotalColumnWidth())))

	fmt.Fprintln(w, StyleTitle.Render("Rows"))
	fmt.Fprintln(w, rowsTable(rows))
	fmt.Fprintf(w, "%s %s  %s %s  %s %s\n",
		StyleDim.Render("page height"), StyleNumber.Render(formatPx(meta.CurrentPageTotalHeight)),
		StyleDim.Render("pinned top"), StyleNumber.Render(formatPx(meta.PinnedTopHeight)),
		StyleDim.Render("pinned bottom"), StyleNumber.Render(formatPx(meta.PinnedBottomHeight)))
	return nil
}

// rowLine is one rendered row of the rows table.
type rowLine struct {
	id      gridz.RowID
	pinned  string
	classes []string
	height  float64
	top     float64
}

// rowLayout collects pinned top rows, the current page and pinned bottom
// rows in display order. Pinned rows report a top offset within their own
// section.
func rowLayout(ctx context.Context, g *gridz.Grid) ([]rowLine, error) {
	pinned := g.Rows().PinnedRows()
	page := g.Rows().VisibleRows()
	positions := g.RowsMeta().RowsMeta().Positions

	lines := make([]rowLine, 0, len(pinned.Top)+len(page)+len(pinned.Bottom))
	add := func(id gridz.RowID, where string, top float64) error {
		h, err := g.RowsMeta().RowHeight(id)
		if err != nil {
			return err
		}
		classes, err := g.RowClassNames(ctx, id)
		if err != nil {
			return err
		}
		lines = append(lines, rowLine{id: id, pinned: where, classes: classes, height: h, top: top})
		return nil
	}

	var offset float64
	for _, r := range pinned.Top {
		if err := add(r.ID, gridz.PinnedTop, offset); err != nil {
			return nil, err
		}
		offset += lines[len(lines)-1].height
	}
	for i, r := range page {
		var top float64
		if i < len(positions) {
			top = positions[i]
		}
		if err := add(r.ID, gridz.PinnedNone, top); err != nil {
			return nil, err
		}
	}
	offset = 0
	for _, r := range pinned.Bottom {
		if err := add(r.ID, gridz.PinnedBottom, offset); err != nil {
			return nil, err
		}
		offset += lines[len(lines)-1].height
	}
	return lines, nil
}

func columnsTable(s gridz.ColumnsState) string {
	cols := s.Columns()
	rows := make([][]string, 0, len(cols))
	var left float64
	for _, col := range cols {
		offset := "-"
		visible := s.IsVisible(col.Field)
		if visible {
			offset = formatPx(left)
			left += col.ComputedWidth
		}
		header := col.HeaderName
		if col.Internal {
			header = "(internal)"
		}
		rows = append(rows, []string{col.Field, header, col.Type, formatPx(col.ComputedWidth), offset, strconv.FormatBool(visible)})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleBorder).
		Headers("Field", "Header", "Type", "Width", "Left", "Visible").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return styleHeader
			case !s.IsVisible(cols[row].Field):
				return styleHidden
			case col == 3 || col == 4:
				return styleNumber
			default:
				return styleCell
			}
		}).
		String()
}

func rowsTable(lines []rowLine) string {
	rows := make([][]string, len(lines))
	for i, l := range lines {
		rows[i] = []string{string(l.id), l.pinned, formatPx(l.top), formatPx(l.height), strings.Join(l.classes, " ")}
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleBorder).
		Headers("Row", "Pinned", "Top", "Height", "Classes").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return styleHeader
			case col == 2 || col == 3:
				return styleNumber
			case lines[row].pinned != gridz.PinnedNone:
				return stylePinned
			default:
				return styleCell
			}
		}).
		String()
}

func formatPx(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
