package pattern

import (
	"fmt"
	"strings"
)

// Param identifies one per-channel playback parameter.
type Param int

const (
	ParamPitch Param = iota
	ParamTrimStart
	ParamTrimEnd
	ParamHPFCutoff
	ParamHPFQ
	ParamLPFCutoff
	ParamLPFQ
	ParamEQLow
	ParamEQMid
	ParamEQHigh
	ParamFadeIn
	ParamFadeOut
	ParamVolume
	ParamReverse
	ParamMute
	ParamSolo
)

// ParamSpec describes a parameter: its wire name, valid range and accessors.
// Boolean parameters use the range [0,1] and treat values >= 0.5 as true.
type ParamSpec struct {
	Param Param
	Name  string
	Min   float64
	Max   float64
	Bool  bool

	get func(*Channel) float64
	set func(*Channel, float64)
}

func boolParam(b *bool) float64 {
	if *b {
		return 1
	}
	return 0
}

var paramTable = []ParamSpec{
	{ParamPitch, "pitch", -24, 24, false,
		func(c *Channel) float64 { return c.Pitch },
		func(c *Channel, v float64) { c.Pitch = v }},
	{ParamTrimStart, "trim_start", 0, 1, false,
		func(c *Channel) float64 { return c.TrimStart },
		func(c *Channel, v float64) { c.TrimStart = v }},
	{ParamTrimEnd, "trim_end", 0, 1, false,
		func(c *Channel) float64 { return c.TrimEnd },
		func(c *Channel, v float64) { c.TrimEnd = v }},
	{ParamHPFCutoff, "hpf_cutoff", 20, 20000, false,
		func(c *Channel) float64 { return c.HPF.Cutoff },
		func(c *Channel, v float64) { c.HPF.Cutoff = v }},
	{ParamHPFQ, "hpf_q", 0.1, 30, false,
		func(c *Channel) float64 { return c.HPF.Q },
		func(c *Channel, v float64) { c.HPF.Q = v }},
	{ParamLPFCutoff, "lpf_cutoff", 20, 20000, false,
		func(c *Channel) float64 { return c.LPF.Cutoff },
		func(c *Channel, v float64) { c.LPF.Cutoff = v }},
	{ParamLPFQ, "lpf_q", 0.1, 30, false,
		func(c *Channel) float64 { return c.LPF.Q },
		func(c *Channel, v float64) { c.LPF.Q = v }},
	{ParamEQLow, "eq_low", -24, 24, false,
		func(c *Channel) float64 { return c.EQLow },
		func(c *Channel, v float64) { c.EQLow = v }},
	{ParamEQMid, "eq_mid", -24, 24, false,
		func(c *Channel) float64 { return c.EQMid },
		func(c *Channel, v float64) { c.EQMid = v }},
	{ParamEQHigh, "eq_high", -24, 24, false,
		func(c *Channel) float64 { return c.EQHigh },
		func(c *Channel, v float64) { c.EQHigh = v }},
	{ParamFadeIn, "fade_in", 0, 10, false,
		func(c *Channel) float64 { return c.FadeIn },
		func(c *Channel, v float64) { c.FadeIn = v }},
	{ParamFadeOut, "fade_out", 0, 10, false,
		func(c *Channel) float64 { return c.FadeOut },
		func(c *Channel, v float64) { c.FadeOut = v }},
	{ParamVolume, "volume", 0, 2, false,
		func(c *Channel) float64 { return c.Volume },
		func(c *Channel, v float64) { c.Volume = v }},
	{ParamReverse, "reverse", 0, 1, true,
		func(c *Channel) float64 { return boolParam(&c.Reverse) },
		func(c *Channel, v float64) { c.Reverse = v >= 0.5 }},
	{ParamMute, "mute", 0, 1, true,
		func(c *Channel) float64 { return boolParam(&c.Mute) },
		func(c *Channel, v float64) { c.Mute = v >= 0.5 }},
	{ParamSolo, "solo", 0, 1, true,
		func(c *Channel) float64 { return boolParam(&c.Solo) },
		func(c *Channel, v float64) { c.Solo = v >= 0.5 }},
}

// Params returns the descriptor table.
func Params() []ParamSpec {
	out := make([]ParamSpec, len(paramTable))
	copy(out, paramTable)
	return out
}

// LookupParam resolves a parameter by name. Dashes and case are ignored.
func LookupParam(name string) (Param, bool) {
	name = strings.ReplaceAll(strings.ToLower(name), "-", "_")
	for _, spec := range paramTable {
		if spec.Name == name {
			return spec.Param, true
		}
	}
	return 0, false
}

func (p Param) valid() bool { return p >= 0 && int(p) < len(paramTable) }

// Spec returns the descriptor for p.
func (p Param) Spec() ParamSpec {
	return paramTable[p]
}

func (p Param) String() string {
	if !p.valid() {
		return fmt.Sprintf("param(%d)", int(p))
	}
	return paramTable[p].Name
}

// Clamp limits v to the parameter's range.
func (s ParamSpec) Clamp(v float64) float64 {
	if v < s.Min {
		return s.Min
	}
	if v > s.Max {
		return s.Max
	}
	return v
}

// Get reads p from c.
func (c *Channel) Get(p Param) float64 {
	if !p.valid() {
		return 0
	}
	return paramTable[p].get(c)
}

// Set writes v, clamped to range, to parameter p of c.
func (c *Channel) Set(p Param, v float64) error {
	if !p.valid() {
		return fmt.Errorf("unknown parameter %d", int(p))
	}
	spec := paramTable[p]
	spec.set(c, spec.Clamp(v))
	return nil
}
