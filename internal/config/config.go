// Package config loads the YAML configuration: transport defaults, clock and
// tuner settings, the output backend and the channel kit.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/icco/lookahead/internal/audio"
	"github.com/icco/lookahead/internal/diag"
	"github.com/icco/lookahead/internal/pattern"
	"github.com/icco/lookahead/internal/tuner"
)

// Backend kinds.
const (
	BackendOto  = "oto"
	BackendMIDI = "midi"
)

type Transport struct {
	Tempo         float64 `yaml:"tempo"`
	Multiplier    int     `yaml:"multiplier"`
	StepsPerBar   int     `yaml:"steps_per_bar"`
	PatternLength int     `yaml:"pattern_length"`
	Continuous    bool    `yaml:"continuous"`
}

type Clock struct {
	PreRoll float64 `yaml:"pre_roll"` // seconds
}

type Tuner struct {
	Initial       float64 `yaml:"initial"`
	Min           float64 `yaml:"min"`
	Max           float64 `yaml:"max"`
	Step          float64 `yaml:"step"`
	Window        int     `yaml:"window"`
	GrowRatio     float64 `yaml:"grow_ratio"`
	ShrinkRatio   float64 `yaml:"shrink_ratio"`
	ScheduleFloor float64 `yaml:"schedule_floor"`
}

type Diagnostics struct {
	Enabled   bool          `yaml:"enabled"`
	Channel   int           `yaml:"channel"`
	Settle    float64       `yaml:"settle"`
	DriftWarn float64       `yaml:"drift_warn"`
	CostWarn  time.Duration `yaml:"cost_warn"`
}

type Host struct {
	Poll   time.Duration `yaml:"poll"`
	Jitter time.Duration `yaml:"jitter"`
}

type Backend struct {
	Kind       string  `yaml:"kind"`
	SampleRate int     `yaml:"sample_rate"`
	MIDIPort   string  `yaml:"midi_port"`
	Gate       float64 `yaml:"gate"` // seconds a MIDI note is held before trimming
}

type EQ struct {
	Low  float64 `yaml:"low"`
	Mid  float64 `yaml:"mid"`
	High float64 `yaml:"high"`
}

type Filter struct {
	Cutoff float64 `yaml:"cutoff"`
	Q      float64 `yaml:"q"`
}

// Channel describes one track of the kit.
type Channel struct {
	Name        string  `yaml:"name"`
	Voice       string  `yaml:"voice"`
	Note        int     `yaml:"note"`
	MIDIChannel int     `yaml:"midi_channel"`
	Steps       string  `yaml:"steps"`
	Pitch       float64 `yaml:"pitch"`
	TrimStart   float64 `yaml:"trim_start"`
	TrimEnd     float64 `yaml:"trim_end"`
	Reverse     bool    `yaml:"reverse"`
	HPF         Filter  `yaml:"hpf"`
	LPF         Filter  `yaml:"lpf"`
	EQ          EQ      `yaml:"eq"`
	FadeIn      float64 `yaml:"fade_in"`
	FadeOut     float64 `yaml:"fade_out"`
	Volume      float64 `yaml:"volume"`
	Mute        bool    `yaml:"mute"`
	Solo        bool    `yaml:"solo"`
}

func defaultChannel() Channel {
	return Channel{
		Voice:       "tone",
		Note:        60,
		MIDIChannel: 10,
		TrimEnd:     1,
		HPF:         Filter{Cutoff: 20, Q: audio.DefaultQ},
		LPF:         Filter{Cutoff: 20000, Q: audio.DefaultQ},
		Volume:      1,
	}
}

// UnmarshalYAML fills fields missing from the document with channel
// defaults.
func (c *Channel) UnmarshalYAML(node *yaml.Node) error {
	type plain Channel
	p := plain(defaultChannel())
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Channel(p)
	return nil
}

// Sequence holds alternative steps by channel name.
type Sequence map[string]string

type Config struct {
	Transport   Transport   `yaml:"transport"`
	Clock       Clock       `yaml:"clock"`
	Tuner       Tuner       `yaml:"tuner"`
	Diagnostics Diagnostics `yaml:"diagnostics"`
	Host        Host        `yaml:"host"`
	Backend     Backend     `yaml:"backend"`
	Channels    []Channel   `yaml:"channels"`
	Sequences   []Sequence  `yaml:"sequences"`
}

func kitChannel(name, voice string, note int, steps string) Channel {
	c := defaultChannel()
	c.Name = name
	c.Voice = voice
	c.Note = note
	c.Steps = steps
	return c
}

// Default returns a four-channel kit at 120 BPM.
func Default() *Config {
	t := tuner.DefaultConfig()
	d := diag.DefaultConfig()
	return &Config{
		Transport: Transport{
			Tempo:         120,
			Multiplier:    4,
			StepsPerBar:   d.StepsPerBar,
			PatternLength: 16,
		},
		Clock: Clock{PreRoll: 0.1},
		Tuner: Tuner{
			Initial:       t.Initial,
			Min:           t.Min,
			Max:           t.Max,
			Step:          t.Step,
			Window:        t.Window,
			GrowRatio:     t.GrowRatio,
			ShrinkRatio:   t.ShrinkRatio,
			ScheduleFloor: t.ScheduleFloor,
		},
		Diagnostics: Diagnostics{
			Enabled:   true,
			Channel:   0,
			Settle:    d.Settle,
			DriftWarn: d.DriftWarn,
			CostWarn:  5 * time.Millisecond,
		},
		Host: Host{Poll: 16 * time.Millisecond},
		Backend: Backend{
			Kind:       BackendOto,
			SampleRate: 44100,
			Gate:       0.1,
		},
		Channels: []Channel{
			kitChannel("kick", "kick", 36, "x...x...x...x..."),
			kitChannel("snare", "snare", 38, "....x.......x..."),
			kitChannel("hat", "hat", 42, "..x...x...x...x."),
			kitChannel("clap", "clap", 39, "............x..x"),
		},
	}
}

// Dir returns the configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "lookahead"), nil
}

// DefaultPath returns the path of config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads path over the defaults. An empty path means DefaultPath; a
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Default(), nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document over the defaults and validates it. A
// channel list in the document replaces the default kit.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Transport.Tempo <= 0 {
		return fmt.Errorf("transport.tempo must be positive, got %v", c.Transport.Tempo)
	}
	if c.Transport.Multiplier < 1 {
		return fmt.Errorf("transport.multiplier must be at least 1, got %d", c.Transport.Multiplier)
	}
	if c.Transport.StepsPerBar < 1 {
		return fmt.Errorf("transport.steps_per_bar must be at least 1, got %d", c.Transport.StepsPerBar)
	}
	if c.Transport.PatternLength < 1 {
		return fmt.Errorf("transport.pattern_length must be at least 1, got %d", c.Transport.PatternLength)
	}
	if c.Clock.PreRoll < 0 {
		return fmt.Errorf("clock.pre_roll must not be negative, got %v", c.Clock.PreRoll)
	}
	if err := c.TunerConfig().Validate(); err != nil {
		return fmt.Errorf("tuner: %w", err)
	}
	if c.Diagnostics.Settle < 0 || c.Diagnostics.DriftWarn < 0 {
		return fmt.Errorf("diagnostics.settle and diagnostics.drift_warn must not be negative")
	}
	if c.Host.Poll < 0 || c.Host.Jitter < 0 {
		return fmt.Errorf("host.poll and host.jitter must not be negative")
	}

	switch c.Backend.Kind {
	case BackendOto, BackendMIDI:
	default:
		return fmt.Errorf("backend.kind must be %q or %q, got %q", BackendOto, BackendMIDI, c.Backend.Kind)
	}
	if c.Backend.SampleRate <= 0 {
		return fmt.Errorf("backend.sample_rate must be positive, got %d", c.Backend.SampleRate)
	}
	if c.Backend.Gate <= 0 {
		return fmt.Errorf("backend.gate must be positive, got %v", c.Backend.Gate)
	}

	if len(c.Channels) == 0 {
		return fmt.Errorf("no channels configured")
	}
	names := make(map[string]bool, len(c.Channels))
	voices := audio.Voices()
	for i, ch := range c.Channels {
		if err := ch.validate(voices); err != nil {
			return fmt.Errorf("channels[%d]: %w", i, err)
		}
		if names[ch.Name] {
			return fmt.Errorf("channels[%d]: duplicate name %q", i, ch.Name)
		}
		names[ch.Name] = true
	}
	if c.Diagnostics.Channel < 0 || c.Diagnostics.Channel >= len(c.Channels) {
		return fmt.Errorf("diagnostics.channel %d does not name a channel", c.Diagnostics.Channel)
	}

	for i, seq := range c.Sequences {
		for name, steps := range seq {
			if !names[name] {
				return fmt.Errorf("sequences[%d]: unknown channel %q", i, name)
			}
			if _, err := pattern.ParseSteps(steps); err != nil {
				return fmt.Errorf("sequences[%d].%s: %w", i, name, err)
			}
		}
	}
	return nil
}

func (ch Channel) validate(voices []string) error {
	if ch.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !slices.Contains(voices, ch.Voice) {
		return fmt.Errorf("unknown voice %q", ch.Voice)
	}
	if ch.Note < 0 || ch.Note > 127 {
		return fmt.Errorf("note %d out of range", ch.Note)
	}
	if ch.MIDIChannel < 1 || ch.MIDIChannel > 16 {
		return fmt.Errorf("midi_channel %d out of range 1-16", ch.MIDIChannel)
	}
	if _, err := pattern.ParseSteps(ch.Steps); err != nil {
		return fmt.Errorf("steps: %w", err)
	}
	if ch.TrimStart >= ch.TrimEnd {
		return fmt.Errorf("trim_start %v must be below trim_end %v", ch.TrimStart, ch.TrimEnd)
	}

	c := ch.Pattern(0)
	for _, spec := range pattern.Params() {
		if spec.Bool {
			continue
		}
		if v := c.Get(spec.Param); v < spec.Min || v > spec.Max {
			return fmt.Errorf("%s %v out of range [%v, %v]", spec.Name, v, spec.Min, spec.Max)
		}
	}
	return nil
}

// Pattern converts ch to a pattern channel of the given length, without
// buffers.
func (ch Channel) Pattern(length int) pattern.Channel {
	steps, _ := pattern.ParseSteps(ch.Steps)
	c := pattern.NewChannel(ch.Name, length)
	copy(c.Steps, steps)
	c.Pitch = ch.Pitch
	c.TrimStart = ch.TrimStart
	c.TrimEnd = ch.TrimEnd
	c.Reverse = ch.Reverse
	c.HPF = pattern.Filter{Cutoff: ch.HPF.Cutoff, Q: ch.HPF.Q}
	c.LPF = pattern.Filter{Cutoff: ch.LPF.Cutoff, Q: ch.LPF.Q}
	c.EQLow = ch.EQ.Low
	c.EQMid = ch.EQ.Mid
	c.EQHigh = ch.EQ.High
	c.FadeIn = ch.FadeIn
	c.FadeOut = ch.FadeOut
	c.Volume = ch.Volume
	c.Mute = ch.Mute
	c.Solo = ch.Solo
	c.Note = uint8(ch.Note)
	return c
}

// TunerConfig converts the tuner section.
func (c *Config) TunerConfig() tuner.Config {
	return tuner.Config{
		Initial:       c.Tuner.Initial,
		Min:           c.Tuner.Min,
		Max:           c.Tuner.Max,
		Step:          c.Tuner.Step,
		Window:        c.Tuner.Window,
		GrowRatio:     c.Tuner.GrowRatio,
		ShrinkRatio:   c.Tuner.ShrinkRatio,
		ScheduleFloor: c.Tuner.ScheduleFloor,
	}
}

// DiagConfig converts the diagnostics section.
func (c *Config) DiagConfig() diag.Config {
	return diag.Config{
		StepsPerBar: c.Transport.StepsPerBar,
		Settle:      c.Diagnostics.Settle,
		DriftWarn:   c.Diagnostics.DriftWarn,
	}
}
