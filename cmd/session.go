package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/icco/lookahead/internal/audio"
	"github.com/icco/lookahead/internal/audio/midiout"
	"github.com/icco/lookahead/internal/clock"
	"github.com/icco/lookahead/internal/config"
	"github.com/icco/lookahead/internal/session"

	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// openSession opens the configured output and assembles a session on it.
// The returned closer releases the output device.
func openSession(c *config.Config, log *slog.Logger) (*session.Session, io.Closer, error) {
	var (
		out     audio.Backend
		audioCl clock.AudioClock
		buffers session.BufferFunc
		closer  io.Closer
	)

	switch c.Backend.Kind {
	case config.BackendOto:
		mixer, err := audio.NewMixer(c.Backend.SampleRate)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audio output: %w", err)
		}
		out, audioCl, closer = mixer, mixer, mixer
		buffers = session.PCMBuffers(c.Backend.SampleRate)
	case config.BackendMIDI:
		sys := clock.NewSystem()
		m, err := midiout.Open(c.Backend.MIDIPort, sys, log.With("component", "midi"))
		if err != nil {
			return nil, nil, err
		}
		out, audioCl, closer = m, sys, m
		buffers = session.MIDIBuffers(c.Backend.Gate)
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", c.Backend.Kind)
	}

	clk := clock.NewHybrid(audioCl, c.Clock.PreRoll)
	sess, err := session.New(c, clk, out, buffers, log)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	log.Info("output opened", "backend", c.Backend.Kind, "channels", len(c.Channels))
	return sess, closer, nil
}
