// Package rig is the host-facing facade: it ties the signal broker, the
// peer orchestrator, and the servo sink into one blocking session API.
package rig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/resonious/eyecam-net/internal/config"
	"github.com/resonious/eyecam-net/internal/metrics"
	"github.com/resonious/eyecam-net/internal/peer"
	"github.com/resonious/eyecam-net/internal/servo"
	"github.com/resonious/eyecam-net/internal/signal"
)

var (
	// ErrSessionActive reports an Establish call while a session is already
	// live or being negotiated. The rig serves one viewer at a time.
	ErrSessionActive = errors.New("a session is already active")

	// ErrNoSession reports video submitted before Establish succeeded.
	ErrNoSession = errors.New("no established session")
)

// Rig owns one viewer session end to end. Establish blocks until the
// session is live, SubmitVideo feeds it, Done reports the first fatal
// event, Close tears everything down.
type Rig struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	active bool
	broker signal.Broker
	sink   *servo.Sink
	conn   *peer.Connection

	done      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func New(cfg config.Config, logger *slog.Logger) *Rig {
	return &Rig{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		done:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

// Metrics exposes the session counters, for shutdown logging.
func (r *Rig) Metrics() *metrics.Metrics {
	return r.metrics
}

// Establish connects to the viewer rendezvousing under name and blocks
// until the session is live or negotiation fails. The servo worker starts
// before negotiation so the control channel is never ahead of its sink.
func (r *Rig) Establish(ctx context.Context, name string) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return ErrSessionActive
	}
	r.active = true
	r.mu.Unlock()

	err := r.establish(ctx, name)
	if err != nil {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
	}
	return err
}

func (r *Rig) establish(ctx context.Context, name string) error {
	broker, err := signal.New(signal.Config{
		RelayURL:      r.cfg.RelayURL,
		RelayPath:     r.cfg.RelayPath,
		Name:          name,
		OwnSuffix:     r.cfg.OwnSuffix,
		PeerSuffix:    r.cfg.PeerSuffix,
		QueueCapacity: r.cfg.SignalQueueCapacity,
		IdleTimeout:   r.cfg.SignalIdleTimeout,
		Logger:        r.logger,
		Metrics:       r.metrics,
	})
	if err != nil {
		return fmt.Errorf("signal broker: %w", err)
	}

	profiles, err := servo.ProfilesFor(r.cfg.ServoModel)
	if err != nil {
		broker.Close()
		return err
	}
	actuator, err := r.newActuator(profiles)
	if err != nil {
		broker.Close()
		return fmt.Errorf("servo driver: %w", err)
	}

	sink := servo.NewSink(actuator, profiles, r.cfg.CommandQueueCapacity, r.logger, r.metrics)
	sink.Start()

	conn, err := peer.Establish(ctx, broker, sink, peer.Config{
		ICEServers: r.cfg.ICEServers(),
		Logger:     r.logger,
		Metrics:    r.metrics,
	})
	if err != nil {
		sink.Close()
		broker.Close()
		return err
	}

	r.mu.Lock()
	r.broker, r.sink, r.conn = broker, sink, conn
	r.mu.Unlock()

	// First fatal event from either the connection or the servo worker
	// settles the session.
	go func() {
		select {
		case err := <-conn.Done():
			r.fail(err)
		case err := <-sink.Fatal():
			r.fail(err)
		case <-r.closed:
		}
	}()

	return nil
}

func (r *Rig) newActuator(profiles servo.Profiles) (servo.Actuator, error) {
	if r.cfg.ServoDriver == config.ServoDriverOff {
		return servo.NewDiscardActuator(r.logger), nil
	}
	return servo.NewSysfsPWM(r.cfg.PWMChipPath, profiles)
}

// SubmitVideo feeds one buffer of Annex-B H264 into the live session, each
// access unit stamped with duration.
func (r *Rig) SubmitVideo(buf []byte, duration time.Duration) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrNoSession
	}
	return conn.WriteVideo(buf, duration)
}

// Done reports the first fatal session event: the viewer disconnecting,
// the control channel closing, or a servo profile defect. At most one
// error is ever delivered.
func (r *Rig) Done() <-chan error {
	return r.done
}

func (r *Rig) fail(err error) {
	select {
	case r.done <- err:
	default:
	}
}

// Close tears down the session and its transports. Safe to call whether or
// not a session is live, but the rig cannot be reused afterwards.
func (r *Rig) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)

		r.mu.Lock()
		broker, sink, conn := r.broker, r.sink, r.conn
		r.broker, r.sink, r.conn = nil, nil, nil
		r.active = false
		r.mu.Unlock()

		if conn != nil {
			if err := conn.Close(); err != nil {
				r.logger.Warn("closing peer connection failed", "err", err)
			}
		}
		if sink != nil {
			sink.Close()
		}
		if broker != nil {
			broker.Close()
		}
	})
}
