package servo

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/resonious/eyecam-net/internal/metrics"
)

// Axis names a physical actuator channel.
type Axis int

const (
	AxisY Axis = iota
	AxisX
)

func (a Axis) String() string {
	if a == AxisX {
		return "x"
	}
	return "y"
}

// Actuator applies pulse widths to the pan/tilt hardware. Implementations
// may block; the Sink confines all calls to one OS thread.
type Actuator interface {
	SetPulse(axis Axis, width time.Duration) error
	Close() error
}

// Sink drains decoded positioning commands onto the actuator from a single
// dedicated OS thread, so blocking hardware I/O never stalls the scheduler
// that runs the signaling and media loops.
type Sink struct {
	act      Actuator
	profiles Profiles
	logger   *slog.Logger
	metrics  *metrics.Metrics

	commands chan Command
	fatal    chan error

	closeOnce sync.Once
	done      chan struct{}
}

func NewSink(act Actuator, profiles Profiles, queueCapacity int, logger *slog.Logger, m *metrics.Metrics) *Sink {
	return &Sink{
		act:      act,
		profiles: profiles,
		logger:   logger,
		metrics:  m,
		commands: make(chan Command, queueCapacity),
		fatal:    make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the actuator worker.
func (s *Sink) Start() {
	go s.run()
}

// Submit decodes one control-channel payload and queues it for the worker.
// It never blocks: when the queue is full the command is dropped, since a
// newer position will arrive shortly anyway.
func (s *Sink) Submit(payload []byte) {
	cmd, err := DecodeCommand(payload)
	if err != nil {
		s.logger.Warn("dropping control payload", "err", err)
		s.metrics.Inc(metrics.CommandsDropped)
		return
	}

	select {
	case s.commands <- cmd:
	default:
		s.metrics.Inc(metrics.CommandsDropped)
	}
}

// Fatal delivers at most one unrecoverable sink error, such as a profile
// that maps angles outside the servo's pulse range.
func (s *Sink) Fatal() <-chan error {
	return s.fatal
}

func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Sink) run() {
	// Actuator I/O stays on one thread for its whole life.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer func() {
		if err := s.act.Close(); err != nil {
			s.logger.Warn("closing actuator failed", "err", err)
		}
	}()

	s.logger.Debug("servo worker started")
	for {
		select {
		case cmd := <-s.commands:
			if !s.apply(AxisX, s.profiles.X, float64(cmd.X)) {
				return
			}
			if !s.apply(AxisY, s.profiles.Y, float64(cmd.Y)) {
				return
			}
			s.metrics.Inc(metrics.CommandsApplied)
		case <-s.done:
			s.logger.Debug("servo worker exiting")
			return
		}
	}
}

// apply maps one angle onto one axis. A pulse outside the profile range is
// a configuration defect: it surfaces on Fatal and stops the worker. I/O
// errors are logged and skipped.
func (s *Sink) apply(axis Axis, profile Profile, radians float64) bool {
	pulse, err := profile.Pulse(radians)
	if err != nil {
		select {
		case s.fatal <- err:
		default:
		}
		return false
	}

	if err := s.act.SetPulse(axis, pulse); err != nil {
		s.logger.Warn("actuator write failed", "axis", axis.String(), "err", err)
	}
	return true
}
