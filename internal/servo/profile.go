// Package servo decodes positioning commands from the control channel and
// applies them to pan/tilt actuators on a dedicated thread.
package servo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrPulseOutOfRange means the configured profile mapped an angle to a
	// pulse outside the servo's physical range. This is a configuration
	// defect, not a transient condition; the rig must stop.
	ErrPulseOutOfRange = errors.New("servo: pulse outside profile range")

	ErrBadCommandLength = errors.New("servo: command payload must be exactly 8 bytes")

	ErrUnknownModel = errors.New("servo: unknown model")
)

// Profile describes one axis of a servo: PWM timing plus the accepted angle
// range. Angles map linearly onto [PulseMin, PulseMax] over a fixed π radian
// span centered on PulseNeutral, independent of the clamp bounds.
type Profile struct {
	Period       time.Duration
	PulseMin     time.Duration
	PulseNeutral time.Duration
	PulseMax     time.Duration

	// ClampMin/ClampMax bound incoming angles in radians.
	ClampMin float64
	ClampMax float64

	// Invert flips the rotation direction after clamping.
	Invert bool
}

// Profiles holds the per-axis profiles of the physical rig.
type Profiles struct {
	X Profile
	Y Profile
}

// ProfilesFor returns the axis profiles for a supported servo model.
//
// The X axis is mounted mirrored, so it is inverted on both models; the
// SF006C additionally restricts X to ±π/4.
func ProfilesFor(model string) (Profiles, error) {
	switch model {
	case "sg90":
		base := Profile{
			Period:       20 * time.Millisecond,
			PulseMin:     500 * time.Microsecond,
			PulseNeutral: 1500 * time.Microsecond,
			PulseMax:     2500 * time.Microsecond,
			ClampMin:     -math.Pi / 2,
			ClampMax:     math.Pi / 2,
		}
		x := base
		x.Invert = true
		return Profiles{X: x, Y: base}, nil
	case "sf006c":
		base := Profile{
			Period:       10 * time.Millisecond,
			PulseMin:     500 * time.Microsecond,
			PulseNeutral: 1500 * time.Microsecond,
			PulseMax:     2500 * time.Microsecond,
			ClampMin:     -math.Pi / 2,
			ClampMax:     math.Pi / 2,
		}
		x := base
		x.Invert = true
		x.ClampMin = -math.Pi / 4
		x.ClampMax = math.Pi / 4
		return Profiles{X: x, Y: base}, nil
	default:
		return Profiles{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
}

// Pulse maps an angle in radians to a pulse width. The angle is clamped and
// optionally inverted first; the result must land inside
// [PulseMin, PulseMax] or the profile itself is broken.
func (p Profile) Pulse(radians float64) (time.Duration, error) {
	r := math.Min(math.Max(radians, p.ClampMin), p.ClampMax)
	if p.Invert {
		r = -r
	}

	span := float64(p.PulseMax - p.PulseMin)
	pulse := p.PulseMin + time.Duration(span*(r+math.Pi/2)/math.Pi)

	if pulse < p.PulseMin || pulse > p.PulseMax {
		return 0, fmt.Errorf("%w: %s for %f rad", ErrPulseOutOfRange, pulse, radians)
	}
	return pulse, nil
}

// Command is one decoded pan/tilt update, in radians.
type Command struct {
	Y float32
	X float32
}

// DecodeCommand extracts a command from the fixed 8-byte little-endian wire
// format: float32 Y at offset 0, float32 X at offset 4.
func DecodeCommand(b []byte) (Command, error) {
	if len(b) != 8 {
		return Command{}, fmt.Errorf("%w: got %d", ErrBadCommandLength, len(b))
	}
	return Command{
		Y: math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		X: math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
	}, nil
}
