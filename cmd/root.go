package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/icco/lookahead/internal/config"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	logFile    string

	tempo      float64
	multiplier int
	backend    string
	midiPort   string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "lookahead",
	Short: "A look-ahead step sequencer",
	Long: `lookahead plays step patterns with sample-accurate timing.

A cooperative scheduler wakes at imprecise intervals and places every step
that falls inside a short look-ahead window on the audio clock, so wake-up
jitter never reaches the output.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.config/lookahead/config.yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")

	pf.Float64Var(&tempo, "tempo", 0, "tempo in BPM (overrides config)")
	pf.IntVar(&multiplier, "multiplier", 0, "steps per beat (overrides config)")
	pf.StringVar(&backend, "backend", "", "output backend: oto or midi (overrides config)")
	pf.StringVar(&midiPort, "midi-port", "", "MIDI output port name (overrides config)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	// The monitor owns the terminal, so it only logs to a file.
	quiet := cmd.Name() == "monitor" && logFile == ""
	logger, logCloser, err = newLogger(logLevel, logFormat, logFile, quiet)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	applyOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Debug("configuration loaded",
		"tempo", cfg.Transport.Tempo,
		"multiplier", cfg.Transport.Multiplier,
		"backend", cfg.Backend.Kind,
		"channels", len(cfg.Channels))
	return nil
}

func teardown(*cobra.Command, []string) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

func applyOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("tempo") {
		c.Transport.Tempo = tempo
	}
	if flags.Changed("multiplier") {
		c.Transport.Multiplier = multiplier
	}
	if flags.Changed("backend") {
		c.Backend.Kind = backend
	}
	if flags.Changed("midi-port") {
		c.Backend.MIDIPort = midiPort
	}
}

func newLogger(level, format, file string, quiet bool) (*slog.Logger, io.Closer, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q", level)
	}

	var w io.Writer = os.Stderr
	var closer io.Closer
	switch {
	case file != "":
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w, closer = f, f
	case quiet:
		w = io.Discard
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), closer, nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), closer, nil
	default:
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, fmt.Errorf("invalid log format %q", format)
	}
}
