package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/govcore/internal/monitor"
)

func topCmd(c *client) *cobra.Command {
	var (
		interval  time.Duration
		altScreen bool
	)
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Live dashboard of phase, drift, safety and versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %v", interval)
			}
			opts := []tea.ProgramOption{
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			}
			if altScreen {
				opts = append(opts, tea.WithAltScreen())
			}
			p := tea.NewProgram(monitor.NewModel(c.base, interval), opts...)
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", 2*time.Second, "refresh interval")
	cmd.Flags().BoolVar(&altScreen, "alt-screen", true, "use the terminal alternate screen")
	return cmd
}
