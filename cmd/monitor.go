package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/icco/lookahead/internal/tui"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Play and edit the pattern in a terminal UI",
	Long: `Start the interactive monitor.

The monitor drives the scheduler from its frame tick, shows the step that is
currently audible, the look-ahead window and the drift of the last bar, and
lets you edit steps, tempo and channel state while playing.

Logs are discarded unless --log-file is set.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	sess, out, err := openSession(cfg, logger)
	if err != nil {
		return err
	}
	defer out.Close()

	p := tea.NewProgram(tui.New(sess), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running program: %w", err)
	}
	// Quitting stops the transport; this covers a cancelled context.
	sess.Scheduler.Stop()
	return nil
}
