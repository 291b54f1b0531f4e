package signal

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/resonious/eyecam-net/internal/metrics"
)

// wsBroker exchanges the same JSON signal payloads over WebSocket frames
// instead of SSE + POST, for relays that speak ws/wss. Frame bodies are
// classified by the same sdp/candidate schema as the SSE data lines.
type wsBroker struct {
	cfg Config

	closeOnce sync.Once
	done      chan struct{}

	mu       sync.Mutex
	sendConn *websocket.Conn
}

func newWSBroker(cfg Config) *wsBroker {
	return &wsBroker{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

func (b *wsBroker) OpenIncoming() <-chan Incoming {
	out := make(chan Incoming, b.cfg.QueueCapacity)
	go b.receiveLoop(out)
	return out
}

func (b *wsBroker) OpenOutgoing() chan<- Outgoing {
	in := make(chan Outgoing, outgoingQueueCapacity)
	go b.sendLoop(in)
	return in
}

func (b *wsBroker) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.mu.Lock()
		if b.sendConn != nil {
			_ = b.sendConn.Close()
		}
		b.mu.Unlock()
	})
}

// receiveLoop dials the rig's read endpoint and forwards classified frames.
// Dial failures retry immediately; a broken read ends the listener, closing
// the queue so the orchestrator starts a fresh one.
func (b *wsBroker) receiveLoop(out chan<- Incoming) {
	defer close(out)

	for {
		select {
		case <-b.done:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(b.cfg.receiveURL(), nil)
		if err != nil {
			b.cfg.Logger.Error("signal websocket dial failed", "err", err)
			b.cfg.Metrics.Inc(metrics.SignalStreamReopens)
			continue
		}

		// Unblock the read when the broker shuts down.
		go func() {
			<-b.done
			_ = conn.Close()
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-b.done:
				default:
					b.cfg.Logger.Debug("signal websocket ended", "err", err)
				}
				_ = conn.Close()
				return
			}

			msg, err := classify(data)
			if err != nil {
				b.cfg.Logger.Warn("malformed signal", "err", err, "payload", string(data))
				b.cfg.Metrics.Inc(metrics.SignalsDroppedMalformed)
				continue
			}

			select {
			case out <- msg:
				b.cfg.Metrics.Inc(metrics.SignalsForwarded)
			case <-b.done:
				_ = conn.Close()
				return
			}
		}
	}
}

func (b *wsBroker) sendLoop(in <-chan Outgoing) {
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			b.send(msg)
		case <-b.done:
			return
		}
	}
}

func (b *wsBroker) send(msg Outgoing) {
	body, err := msg.marshalBody()
	if err != nil {
		b.cfg.Logger.Error("invalid outgoing signal", "err", err)
		b.cfg.Metrics.Inc(metrics.SignalSendFailures)
		return
	}

	conn, err := b.sendConnLocked()
	if err != nil {
		b.cfg.Logger.Error("signal websocket dial failed", "err", err)
		b.cfg.Metrics.Inc(metrics.SignalSendFailures)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		b.cfg.Logger.Error("signal send failed", "err", err)
		b.cfg.Metrics.Inc(metrics.SignalSendFailures)
		b.dropSendConn(conn)
		return
	}

	b.cfg.Metrics.Inc(metrics.SignalsSent)
}

func (b *wsBroker) sendConnLocked() (*websocket.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendConn != nil {
		return b.sendConn, nil
	}
	conn, _, err := websocket.DefaultDialer.Dial(b.cfg.sendURL(), nil)
	if err != nil {
		return nil, err
	}
	b.sendConn = conn
	return conn, nil
}

// dropSendConn discards a broken write connection so the next send redials.
func (b *wsBroker) dropSendConn(conn *websocket.Conn) {
	b.mu.Lock()
	if b.sendConn == conn {
		b.sendConn = nil
	}
	b.mu.Unlock()
	_ = conn.Close()
}
