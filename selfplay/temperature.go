package selfplay

import "github.com/chewxy/math32"

// TemperatureSchedule maps a game ply to the pick temperature: an
// exponentially decaying opening temperature that snaps to Final once
// the cutoff ply is reached.
type TemperatureSchedule struct {
	Initial float32
	Decay   float32
	Final   float32
	Cutoff  int
}

// At returns the temperature for the given ply.
func (s TemperatureSchedule) At(ply int) float32 {
	if ply < s.Cutoff {
		return s.Initial * math32.Pow(s.Decay, float32(ply))
	}
	return s.Final
}
