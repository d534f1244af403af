// Package export renders a pattern snapshot as a Standard MIDI File.
package export

import (
	"fmt"
	"io"
	"math"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/icco/lookahead/internal/pattern"
)

// TicksPerQuarter is the file resolution.
const TicksPerQuarter = 960

// Options controls the rendering.
type Options struct {
	Bars        int // number of pattern repetitions
	MIDIChannel func(ch pattern.Channel) uint8
}

func defaultMIDIChannel(ch pattern.Channel) uint8 {
	return uint8(ch.ID % 16)
}

// velocity scales a step level by the channel volume onto 1..127.
func velocity(level, volume float64) uint8 {
	v := math.Round(level * volume * 127)
	return uint8(min(127, max(1, v)))
}

// SMF builds the file: a tempo track, then one track per channel. A step is
// a note held for one step less one tick. Muted channels, and unsoloed ones
// while any channel is soloed, are left empty.
func SMF(snap pattern.Snapshot, opts Options) (*smf.SMF, error) {
	if snap.BPM <= 0 || snap.Multiplier < 1 {
		return nil, fmt.Errorf("invalid tempo %v x%d", snap.BPM, snap.Multiplier)
	}
	if opts.Bars < 1 {
		opts.Bars = 1
	}
	if opts.MIDIChannel == nil {
		opts.MIDIChannel = defaultMIDIChannel
	}
	ticksPerStep := uint32(TicksPerQuarter / snap.Multiplier)
	if ticksPerStep < 2 {
		return nil, fmt.Errorf("multiplier %d too fine for %d ticks per quarter", snap.Multiplier, TicksPerQuarter)
	}

	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(TicksPerQuarter)

	var tempo smf.Track
	tempo.Add(0, smf.MetaMeter(4, 4))
	tempo.Add(0, smf.MetaTempo(snap.BPM))
	tempo.Close(0)
	if err := sm.Add(tempo); err != nil {
		return nil, fmt.Errorf("error adding tempo track: %w", err)
	}

	total := uint32(snap.PatternLength*opts.Bars) * ticksPerStep
	for _, ch := range snap.Channels {
		var track smf.Track
		track.Add(0, smf.MetaTrackSequenceName(ch.Name))

		var at uint32 // absolute tick of the last event
		if snap.Audible(ch) {
			mc := opts.MIDIChannel(ch)
			for rep := 0; rep < opts.Bars; rep++ {
				for step := 0; step < snap.PatternLength; step++ {
					lvl := ch.Level(step)
					if lvl <= 0 {
						continue
					}
					pos := uint32(rep*snap.PatternLength+step) * ticksPerStep
					track.Add(pos-at, midi.NoteOn(mc, ch.Note, velocity(lvl, ch.Volume)))
					track.Add(ticksPerStep-1, midi.NoteOff(mc, ch.Note))
					at = pos + ticksPerStep - 1
				}
			}
		}
		track.Close(total - at)
		if err := sm.Add(track); err != nil {
			return nil, fmt.Errorf("error adding track %s: %w", ch.Name, err)
		}
	}
	return sm, nil
}

// Write renders snap and writes it to w.
func Write(w io.Writer, snap pattern.Snapshot, opts Options) error {
	sm, err := SMF(snap, opts)
	if err != nil {
		return err
	}
	if _, err := sm.WriteTo(w); err != nil {
		return fmt.Errorf("error writing MIDI file: %w", err)
	}
	return nil
}
