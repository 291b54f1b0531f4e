package signal

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/resonious/eyecam-net/internal/metrics"
)

// outgoingQueueCapacity bounds the sink handed to the orchestrator. Candidate
// callbacks block on it only if the relay falls far behind.
const outgoingQueueCapacity = 64

// Broker pairs one rendezvous name with a relay: an inbound signal queue and
// an outbound signal sink.
//
// OpenIncoming may be called again after a previous queue closed; each call
// starts a fresh listener. Close terminates all listeners and senders.
type Broker interface {
	OpenIncoming() <-chan Incoming
	OpenOutgoing() chan<- Outgoing
	Close()
}

type Config struct {
	// RelayURL's scheme selects the transport: http/https streams SSE and
	// POSTs replies; ws/wss exchanges JSON frames over a WebSocket.
	RelayURL  string
	RelayPath string

	// Name is the rendezvous name shared with the viewer. The rig reads from
	// OwnSuffix and writes to PeerSuffix.
	Name       string
	OwnSuffix  string
	PeerSuffix string

	QueueCapacity int
	IdleTimeout   time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (c Config) receiveURL() string {
	return fmt.Sprintf("%s/%s/%s/%s", c.RelayURL, c.RelayPath, c.Name, c.OwnSuffix)
}

func (c Config) sendURL() string {
	return fmt.Sprintf("%s/%s/%s/%s", c.RelayURL, c.RelayPath, c.Name, c.PeerSuffix)
}

// New creates a broker for the given rendezvous. The relay URL scheme picks
// the transport.
func New(cfg Config) (Broker, error) {
	u, err := url.Parse(cfg.RelayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url %q: %w", cfg.RelayURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		return newHTTPBroker(cfg), nil
	case "ws", "wss":
		return newWSBroker(cfg), nil
	default:
		return nil, fmt.Errorf("relay url %q: unsupported scheme %q", cfg.RelayURL, u.Scheme)
	}
}

// httpBroker is the SSE + POST relay transport.
type httpBroker struct {
	cfg    Config
	client *http.Client

	closeOnce sync.Once
	done      chan struct{}
}

func newHTTPBroker(cfg Config) *httpBroker {
	return &httpBroker{
		cfg:    cfg,
		client: &http.Client{},
		done:   make(chan struct{}),
	}
}

func (b *httpBroker) OpenIncoming() <-chan Incoming {
	out := make(chan Incoming, b.cfg.QueueCapacity)
	t := &transport{
		client:      b.client,
		url:         b.cfg.receiveURL(),
		idleTimeout: b.cfg.IdleTimeout,
		logger:      b.cfg.Logger,
		metrics:     b.cfg.Metrics,
		done:        b.done,
	}
	go t.run(out)
	return out
}

func (b *httpBroker) OpenOutgoing() chan<- Outgoing {
	in := make(chan Outgoing, outgoingQueueCapacity)
	go b.sendLoop(in)
	return in
}

func (b *httpBroker) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.client.CloseIdleConnections()
	})
}

// sendLoop drains the outbound queue in FIFO order. Send failures drop the
// message and move on; there is no per-message retry.
func (b *httpBroker) sendLoop(in <-chan Outgoing) {
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			b.post(msg)
		case <-b.done:
			return
		}
	}
}

func (b *httpBroker) post(msg Outgoing) {
	body, err := msg.marshalBody()
	if err != nil {
		b.cfg.Logger.Error("invalid outgoing signal", "err", err)
		b.cfg.Metrics.Inc(metrics.SignalSendFailures)
		return
	}

	resp, err := b.client.Post(b.cfg.sendURL(), "application/json", bytes.NewReader(body))
	if err != nil {
		b.cfg.Logger.Error("signal send failed", "err", err)
		b.cfg.Metrics.Inc(metrics.SignalSendFailures)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		b.cfg.Logger.Error("relay rejected signal",
			"status", resp.StatusCode, "body", string(respBody))
		b.cfg.Metrics.Inc(metrics.SignalSendFailures)
		return
	}

	b.cfg.Metrics.Inc(metrics.SignalsSent)
}
