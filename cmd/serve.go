package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/icco/lookahead/internal/api"
	"github.com/icco/lookahead/internal/host"
)

var (
	addr      string
	autoStart bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sequencer with an HTTP control API",
	Long: `Run the sequencer headless and expose an HTTP API to control it.

Example:
  lookahead serve --addr :8080 --start
  curl -X PUT localhost:8080/api/v1/tempo -d '{"bpm": 140}'
`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	serveCmd.Flags().BoolVar(&autoStart, "start", false, "start the transport immediately")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	gin.SetMode(gin.ReleaseMode)

	sess, out, err := openSession(cfg, logger)
	if err != nil {
		return err
	}
	defer out.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loop := host.New(sess.Scheduler, host.Config{Poll: cfg.Host.Poll, Jitter: cfg.Host.Jitter}, logger)
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	if autoStart {
		var startErr error
		if err := loop.Do(ctx, func() { startErr = sess.Scheduler.Start() }); err != nil {
			return err
		}
		if startErr != nil {
			return startErr
		}
	}

	srv := api.New(sess, loop, logger.With("component", "api"))
	serveErr := srv.Run(ctx, addr)
	cancel()

	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	sess.Scheduler.Stop()
	return serveErr
}
