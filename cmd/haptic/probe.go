package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/haptic/pkg/rig"
)

type ProbeCommand struct {
	Home bool `long:"home" description:"Send the transport home after a successful probe"`
}

type probeResult struct {
	role    rig.Role
	link    rig.LinkConfig
	elapsed time.Duration
	err     error
}

func (c *ProbeCommand) Execute(args []string) error {
	cfg := loadConfig()

	fmt.Println(headerStyle.Render("Haptic Probe"))
	fmt.Println()

	transport, actuator, err := cfg.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening controllers: %v\n", err)
		os.Exit(1)
	}
	defer transport.Close()
	defer actuator.Close()

	time.Sleep(resetDelay)

	var results []probeResult
	for _, client := range []*rig.Client{transport, actuator} {
		start := time.Now()
		err := client.ProbeReady(context.Background(), cfg.ProbeTimeout())
		results = append(results, probeResult{
			role:    client.Role,
			link:    *cfg.Link(client.Role),
			elapsed: time.Since(start),
			err:     err,
		})
	}

	fmt.Println(renderProbeTable(results))

	failed := false
	for _, r := range results {
		if r.err != nil {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}

	if c.Home {
		if err := transport.SendHome(); err != nil {
			fmt.Fprintf(os.Stderr, "Error sending home: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(successStyle.Render("Transport homing."))
	}
	return nil
}

func renderProbeTable(results []probeResult) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableHeaderStyle := cellStyle.Bold(true).Foreground(lipgloss.Color("12"))

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := "ready"
		if r.err != nil {
			status = r.err.Error()
		}
		opts, _ := r.link.Options.Normalize()
		rows = append(rows, []string{
			string(r.role),
			r.link.Port,
			strconv.Itoa(opts.BaudRate),
			r.elapsed.Round(time.Millisecond).String(),
			status,
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Role", "Port", "Baud", "Reply", "Status").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 4 && row >= 0 && row < len(results) {
				if results[row].err != nil {
					return cellStyle.Foreground(lipgloss.Color("9"))
				}
				return cellStyle.Foreground(lipgloss.Color("10"))
			}
			return cellStyle
		}).
		Render()
}
