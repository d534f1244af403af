package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/icco/lookahead/internal/host"
	"github.com/icco/lookahead/internal/session"
)

var bars int

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play the configured pattern without a UI",
	Long: `Play the configured pattern on the selected backend until interrupted.

Timing diagnostics are logged once per bar. With --bars the transport stops
after that many bars have played out.

Example:
  lookahead play --tempo 128 --bars 8 --log-level debug
`,
	RunE: runPlay,
}

func init() {
	playCmd.Flags().IntVar(&bars, "bars", 0, "stop after this many bars (0 plays until interrupted)")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, _ []string) error {
	sess, out, err := openSession(cfg, logger)
	if err != nil {
		return err
	}
	defer out.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loop := host.New(sess.Scheduler, host.Config{Poll: cfg.Host.Poll, Jitter: cfg.Host.Jitter}, logger)
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	var startErr error
	if err := loop.Do(ctx, func() { startErr = sess.Scheduler.Start() }); err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}

	if bars > 0 {
		go stopAfter(ctx, cancel, loop, sess, bars)
	}

	err = <-done
	sess.Scheduler.Stop()
	logger.Info("playback finished",
		"wakes", loop.Wakes(),
		"events", loop.Events(),
		"failed", sess.Emitter.Stats().Failed)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// stopAfter cancels playback once n bars have been scheduled and the audio
// clock has passed the last of them.
func stopAfter(ctx context.Context, cancel context.CancelFunc, loop *host.Loop, sess *session.Session, n int) {
	steps := n * sess.Config.Transport.StepsPerBar
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		finished := false
		err := loop.Do(ctx, func() {
			tm := sess.Scheduler.Timing()
			// Step n*spb starts when the last bar has played out.
			end := tm.SessionStart + float64(steps)*tm.SecondsPerStep
			finished = tm.AbsoluteStep >= steps && sess.Clock.CurrentTime() >= end
		})
		if err != nil {
			return
		}
		if finished {
			logger.Info("bar limit reached", "bars", n)
			cancel()
			return
		}
	}
}
