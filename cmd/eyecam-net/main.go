package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/resonious/eyecam-net/internal/config"
	"github.com/resonious/eyecam-net/internal/peer"
	"github.com/resonious/eyecam-net/internal/rig"
	"github.com/resonious/eyecam-net/internal/servo"
)

// Exit codes the host supervisor distinguishes: a disconnect is retried by
// restarting the process, a config error is not.
const (
	exitConfig               = 2
	exitEstablishFailed      = 1
	exitPeerDisconnected     = 50
	exitControlChannelClosed = 52
	exitServoPulseOutOfRange = 53
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	slog.SetDefault(logger)

	if cfg.RendezvousName == "" {
		fmt.Fprintln(os.Stderr, "missing required -name")
		os.Exit(exitConfig)
	}

	logger.Info("starting eyecam-net",
		"relay_url", cfg.RelayURL,
		"relay_path", cfg.RelayPath,
		"name", cfg.RendezvousName,
		"own_suffix", cfg.OwnSuffix,
		"peer_suffix", cfg.PeerSuffix,
		"servo_model", cfg.ServoModel,
		"servo_driver", cfg.ServoDriver,
		"video", cfg.VideoPath,
	)

	r := rig.New(cfg, logger)
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.Establish(ctx, cfg.RendezvousName); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("shutdown signal received before connecting")
			return
		}
		logger.Error("establishing session failed", "err", err)
		os.Exit(exitEstablishFailed)
	}

	pumpErr := make(chan error, 1)
	if cfg.VideoPath != "" {
		src, err := openVideoSource(cfg.VideoPath)
		if err != nil {
			logger.Error("opening video source failed", "err", err)
			os.Exit(exitEstablishFailed)
		}
		go func() {
			defer src.Close()
			pumpErr <- pumpVideo(ctx, r, src, cfg.FrameDuration)
		}()
	}

	code := 0
	select {
	case err := <-r.Done():
		logger.Error("session ended", "err", err)
		code = exitCodeFor(err)
	case err := <-pumpErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("video pump failed", "err", err)
			code = exitEstablishFailed
		} else {
			logger.Info("video source exhausted")
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	r.Close()
	logger.Info("session counters", countersAttr(r)...)
	os.Exit(code)
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, peer.ErrControlChannelClosed):
		return exitControlChannelClosed
	case errors.Is(err, peer.ErrPeerDisconnected), errors.Is(err, peer.ErrPeerFailed):
		return exitPeerDisconnected
	case errors.Is(err, servo.ErrPulseOutOfRange):
		return exitServoPulseOutOfRange
	default:
		return exitEstablishFailed
	}
}

func countersAttr(r *rig.Rig) []any {
	snapshot := r.Metrics().Snapshot()
	attrs := make([]any, 0, len(snapshot)*2)
	for name, value := range snapshot {
		attrs = append(attrs, name, value)
	}
	return attrs
}

func openVideoSource(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// pumpVideo feeds the rig from an Annex-B elementary stream. Reads are
// chunked, so the tail of each chunk may hold an incomplete access unit; it
// is carried into the next round and only complete units are submitted.
func pumpVideo(ctx context.Context, r *rig.Rig, src io.Reader, frameDuration time.Duration) error {
	reader := bufio.NewReaderSize(src, 64<<10)
	chunk := make([]byte, 64<<10)
	var carry []byte

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := reader.Read(chunk)
		if n > 0 {
			carry = append(carry, chunk[:n]...)
			complete, rest := splitCompleteUnits(carry)
			if len(complete) > 0 {
				if err := r.SubmitVideo(complete, frameDuration); err != nil {
					return err
				}
			}
			carry = append(carry[:0], rest...)
		}
		if errors.Is(err, io.EOF) {
			if len(carry) > 0 {
				return r.SubmitVideo(carry, frameDuration)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read video source: %w", err)
		}
	}
}

// splitCompleteUnits cuts buf at the last Annex-B start code: everything
// before it is complete access units, the rest may still be growing.
func splitCompleteUnits(buf []byte) (complete, rest []byte) {
	i := bytes.LastIndex(buf, []byte{0, 0, 1})
	if i <= 0 {
		return nil, buf
	}
	// A four-byte start code begins one byte earlier.
	if buf[i-1] == 0 {
		i--
	}
	if i == 0 {
		return nil, buf
	}
	return buf[:i], buf[i:]
}
