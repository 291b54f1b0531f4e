package servo

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// pwmChannelFor maps axes onto kernel PWM channels: pwm0 tilts (Y), pwm1
// pans (X). Matches the physical wiring of the rig.
func pwmChannelFor(axis Axis) int {
	if axis == AxisX {
		return 1
	}
	return 0
}

// sysfsPWM drives two hardware PWM channels through the kernel's sysfs
// interface. Each channel gets its period once at init and starts at the
// neutral pulse; afterwards only the duty cycle changes.
type sysfsPWM struct {
	chipPath string
}

// NewSysfsPWM exports and configures both channels under chipPath (e.g.
// /sys/class/pwm/pwmchip0).
func NewSysfsPWM(chipPath string, profiles Profiles) (Actuator, error) {
	p := &sysfsPWM{chipPath: chipPath}
	for axis, profile := range map[Axis]Profile{AxisY: profiles.Y, AxisX: profiles.X} {
		if err := p.initChannel(pwmChannelFor(axis), profile); err != nil {
			return nil, fmt.Errorf("pwm channel %d: %w", pwmChannelFor(axis), err)
		}
	}
	return p, nil
}

func (p *sysfsPWM) initChannel(channel int, profile Profile) error {
	dir := p.channelDir(channel)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(p.chipPath, "export"), []byte(strconv.Itoa(channel)), 0o644); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}

	// Duty cycle must fit inside the period at all times, so shrink it
	// before touching the period.
	_ = p.writeAttr(channel, "duty_cycle", 0)
	if err := p.writeAttr(channel, "period", profile.Period.Nanoseconds()); err != nil {
		return fmt.Errorf("period: %w", err)
	}
	if err := p.writeAttr(channel, "duty_cycle", profile.PulseNeutral.Nanoseconds()); err != nil {
		return fmt.Errorf("neutral duty cycle: %w", err)
	}
	if err := p.writeAttr(channel, "enable", 1); err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	return nil
}

func (p *sysfsPWM) SetPulse(axis Axis, width time.Duration) error {
	return p.writeAttr(pwmChannelFor(axis), "duty_cycle", width.Nanoseconds())
}

func (p *sysfsPWM) Close() error {
	var firstErr error
	for _, channel := range []int{0, 1} {
		if err := p.writeAttr(channel, "enable", 0); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *sysfsPWM) channelDir(channel int) string {
	return filepath.Join(p.chipPath, fmt.Sprintf("pwm%d", channel))
}

func (p *sysfsPWM) writeAttr(channel int, attr string, value int64) error {
	path := filepath.Join(p.channelDir(channel), attr)
	return os.WriteFile(path, []byte(strconv.FormatInt(value, 10)), 0o644)
}

// discardActuator is the "off" driver for hosts without pan/tilt hardware:
// commands are logged at debug level and dropped.
type discardActuator struct {
	logger *slog.Logger
}

func NewDiscardActuator(logger *slog.Logger) Actuator {
	return &discardActuator{logger: logger}
}

func (d *discardActuator) SetPulse(axis Axis, width time.Duration) error {
	d.logger.Debug("discarding servo pulse", "axis", axis.String(), "width", width)
	return nil
}

func (d *discardActuator) Close() error { return nil }
