package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/icco/lookahead/internal/audio/midiout"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List MIDI output ports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ports := midiout.Ports()
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No MIDI outputs found.")
			return nil
		}
		for i, name := range ports {
			fmt.Fprintf(cmd.OutOrStdout(), "%d: %s\n", i, name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
