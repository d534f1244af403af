package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/icco/lookahead/internal/export"
	"github.com/icco/lookahead/internal/pattern"
	"github.com/icco/lookahead/internal/session"
)

var (
	exportPath string
	exportBars int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the configured pattern as a MIDI file",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportPath, "out", "o", "pattern.mid", "output file")
	exportCmd.Flags().IntVar(&exportBars, "bars", 1, "number of pattern repetitions")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	store, err := session.BuildStore(cfg, session.MIDIBuffers(cfg.Backend.Gate))
	if err != nil {
		return err
	}

	f, err := os.Create(exportPath)
	if err != nil {
		return err
	}
	opts := export.Options{
		Bars: exportBars,
		MIDIChannel: func(ch pattern.Channel) uint8 {
			return uint8(cfg.Channels[ch.ID].MIDIChannel - 1)
		},
	}
	if err := export.Write(f, store.Snapshot(), opts); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", exportPath)
	return nil
}
