package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/haptic/pkg/history"
	"github.com/gwillem/haptic/pkg/rig"
)

type HistoryCommand struct {
	Run   string `long:"run" description:"Show the block trace of one run (id or unique prefix)"`
	Limit int    `long:"limit" default:"20" description:"Number of runs to list"`
}

func (c *HistoryCommand) Execute(args []string) error {
	path := rig.DefaultHistoryDB
	if cfg, err := rig.LoadConfigFrom(opts.Config); err == nil {
		path = cfg.HistoryPath()
	}

	store, err := history.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening history: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if c.Run != "" {
		return showRun(store, c.Run)
	}

	runs, err := store.ListRuns(c.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID[:min(8, len(r.ID))],
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Sequence,
			r.State,
			fmt.Sprintf("%d/%d", r.LastCompleted+1, r.Blocks),
			r.Duration().Round(time.Millisecond).String(),
		})
	}
	fmt.Println(renderTable([]string{"Run", "Started", "Sequence", "State", "Blocks", "Duration"}, rows,
		func(row, col int) (lipgloss.Style, bool) {
			if col != 3 {
				return lipgloss.Style{}, false
			}
			if runs[row].State == "finished" {
				return successStyle, true
			}
			return errorStyle, true
		}))
	return nil
}

func showRun(store *history.Store, id string) error {
	run, blocks, err := store.Run(id)
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render("Run " + run.ID))
	fmt.Printf("Sequence: %s\n", run.Sequence)
	fmt.Printf("Started:  %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Printf("State:    %s (%d of %d blocks)\n", run.State, run.LastCompleted+1, run.Blocks)
	if run.Error != "" {
		fmt.Println(errorStyle.Render(run.Error))
	}
	fmt.Println()

	rows := make([][]string, 0, len(blocks))
	for _, b := range blocks {
		took := "-"
		if !b.CompletedAt.IsZero() {
			took = b.CompletedAt.Sub(b.StartedAt).Round(time.Millisecond).String()
		}
		rows = append(rows, []string{
			strconv.Itoa(b.Index + 1),
			b.Label,
			took,
			strings.Join(b.Commands, "\n"),
		})
	}
	fmt.Println(renderTable([]string{"#", "Block", "Took", "Commands"}, rows,
		func(row, col int) (lipgloss.Style, bool) {
			if col == 2 && blocks[row].CompletedAt.IsZero() {
				return errorStyle, true
			}
			return lipgloss.Style{}, false
		}))
	return nil
}

// renderTable draws rows in the common table style. color may override the
// foreground of a body cell.
func renderTable(headers []string, rows [][]string, color func(row, col int) (lipgloss.Style, bool)) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableHeaderStyle := cellStyle.Bold(true).Foreground(lipgloss.Color("12"))

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if row >= 0 && row < len(rows) {
				if s, ok := color(row, col); ok {
					return s.Padding(0, 1)
				}
			}
			return cellStyle
		}).
		Render()
}
