package sequencer

import (
	"errors"
	"fmt"
	"math"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

var (
	ErrInvalidTempo      = errors.New("tempo must be positive")
	ErrInvalidMultiplier = errors.New("schedule multiplier must be at least 1")
)

// IsConfigurationError reports whether err was caused by invalid tempo or
// multiplier settings.
func IsConfigurationError(err error) bool {
	return err != nil && ftag.Get(err) == ftag.InvalidArgument
}

func validateTempo(bpm float64) error {
	if !(bpm > 0) || math.IsInf(bpm, 0) {
		return fault.Wrap(ErrInvalidTempo,
			fmsg.WithDesc(fmt.Sprintf("bpm %v", bpm), "Tempo must be greater than zero"),
			ftag.With(ftag.InvalidArgument))
	}
	return nil
}

func validateMultiplier(n int) error {
	if n < 1 {
		return fault.Wrap(ErrInvalidMultiplier,
			fmsg.WithDesc(fmt.Sprintf("multiplier %d", n), "Schedule multiplier must be 1 or more"),
			ftag.With(ftag.InvalidArgument))
	}
	return nil
}
