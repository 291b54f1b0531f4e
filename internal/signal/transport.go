package signal

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/resonious/eyecam-net/internal/metrics"
)

// transport maintains one long-lived inbound event stream from the relay.
//
// Request failures and mid-stream body errors reopen the GET immediately
// (no backoff). A clean EOF or a full idle window ends the listener for
// good, closing the outbound queue; the connection orchestrator reacts by
// opening a fresh one.
type transport struct {
	client      *http.Client
	url         string
	idleTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	// done is the broker's shutdown signal. Once it fires the consumer is
	// gone and the loop terminates permanently.
	done <-chan struct{}
}

func (t *transport) run(out chan<- Incoming) {
	defer close(out)
	for t.streamOnce(out) {
		t.metrics.Inc(metrics.SignalStreamReopens)
	}
}

type chunkResult struct {
	data []byte
	err  error
}

// streamOnce performs one GET and consumes its body. The return value says
// whether the outer loop should reopen the stream.
func (t *transport) streamOnce(out chan<- Incoming) (reopen bool) {
	req, err := http.NewRequest(http.MethodGet, t.url, nil)
	if err != nil {
		t.logger.Error("building signal stream request failed", "url", t.url, "err", err)
		return false
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		select {
		case <-t.done:
			return false
		default:
		}
		t.logger.Error("signal stream request failed", "err", err)
		return true
	}
	defer resp.Body.Close()

	stop := make(chan struct{})
	defer close(stop)
	chunks := make(chan chunkResult)
	go readChunks(resp.Body, chunks, stop)

	var framer sseFramer
	idle := time.NewTimer(t.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case res := <-chunks:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					t.logger.Debug("signal stream ended")
					return false
				}
				t.logger.Error("signal stream body broke", "err", res.err)
				return true
			}

			consumerGone := false
			framer.Feed(res.data, func(data []byte) {
				if consumerGone {
					return
				}
				consumerGone = !t.forward(data, out)
			})
			if consumerGone {
				return false
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(t.idleTimeout)

		case <-idle.C:
			t.logger.Warn("no signal traffic within idle window, ending stream",
				"idle_timeout", t.idleTimeout)
			return false

		case <-t.done:
			return false
		}
	}
}

// forward classifies one data payload and pushes it onto the queue, blocking
// the stream reader while the queue is full. It reports false once the
// consumer is gone.
func (t *transport) forward(data []byte, out chan<- Incoming) bool {
	msg, err := classify(data)
	if err != nil {
		if errors.Is(err, errUnknownSignal) {
			t.logger.Warn("unknown signal format", "payload", string(data))
			t.metrics.Inc(metrics.SignalsDroppedUnknown)
		} else {
			t.logger.Warn("malformed signal", "err", err, "payload", string(data))
			t.metrics.Inc(metrics.SignalsDroppedMalformed)
		}
		return true
	}

	select {
	case out <- msg:
		t.metrics.Inc(metrics.SignalsForwarded)
		return true
	case <-t.done:
		t.logger.Debug("signal listener shutting down")
		return false
	}
}

func readChunks(r io.Reader, out chan<- chunkResult, stop <-chan struct{}) {
	for {
		buf := make([]byte, 4096)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case out <- chunkResult{data: buf[:n]}:
			case <-stop:
				return
			}
		}
		if err != nil {
			select {
			case out <- chunkResult{err: err}:
			case <-stop:
			}
			return
		}
	}
}
