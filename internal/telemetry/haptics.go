package telemetry

import "github.com/sirupsen/logrus"

// HapticStyle is the strength of a feedback pulse.
type HapticStyle string

const (
	HapticLight   HapticStyle = "light"
	HapticMedium  HapticStyle = "medium"
	HapticHeavy   HapticStyle = "heavy"
	HapticSuccess HapticStyle = "success"
	HapticError   HapticStyle = "error"
)

// Haptics triggers device feedback. Best-effort; never blocks.
type Haptics interface {
	Trigger(style HapticStyle)
}

// NoopHaptics discards every pulse. Used on headless hosts.
type NoopHaptics struct{}

func (NoopHaptics) Trigger(HapticStyle) {}

// LogHaptics records pulses at trace level, mostly useful while debugging flows.
type LogHaptics struct {
	Log logrus.FieldLogger
}

func (h LogHaptics) Trigger(style HapticStyle) {
	if h.Log == nil {
		return
	}
	h.Log.WithField("style", style).Trace("haptic")
}
