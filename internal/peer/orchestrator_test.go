package peer_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/resonious/eyecam-net/internal/metrics"
	"github.com/resonious/eyecam-net/internal/peer"
	"github.com/resonious/eyecam-net/internal/signal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chanBroker is a relay stand-in: the test plays the viewer's side of both
// queues directly.
type chanBroker struct {
	incoming chan signal.Incoming
	outgoing chan signal.Outgoing
}

func newChanBroker() *chanBroker {
	return &chanBroker{
		incoming: make(chan signal.Incoming, 64),
		outgoing: make(chan signal.Outgoing, 64),
	}
}

func (b *chanBroker) OpenIncoming() <-chan signal.Incoming { return b.incoming }
func (b *chanBroker) OpenOutgoing() chan<- signal.Outgoing { return b.outgoing }

// closedStreamBroker hands out an already-closed incoming queue on every
// open, imitating a relay stream that dies immediately.
type closedStreamBroker struct {
	opens    atomic.Int64
	outgoing chan signal.Outgoing
}

func (b *closedStreamBroker) OpenIncoming() <-chan signal.Incoming {
	b.opens.Add(1)
	ch := make(chan signal.Incoming)
	close(ch)
	return ch
}

func (b *closedStreamBroker) OpenOutgoing() chan<- signal.Outgoing { return b.outgoing }

type nopSink struct{}

func (nopSink) Submit([]byte) {}

type recordingSink struct {
	payloads chan []byte
}

func (s *recordingSink) Submit(p []byte) {
	s.payloads <- append([]byte(nil), p...)
}

func TestEstablish_ReopensEndedSignalStream(t *testing.T) {
	broker := &closedStreamBroker{outgoing: make(chan signal.Outgoing, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := make(chan error, 1)
	go func() {
		_, err := peer.Establish(ctx, broker, nopSink{}, peer.Config{
			Logger:  testLogger(),
			Metrics: metrics.New(),
		})
		result <- err
	}()

	// No offer ever arrives, so the wait must keep reopening the stream
	// instead of giving up.
	time.Sleep(200 * time.Millisecond)
	select {
	case err := <-result:
		t.Fatalf("establish returned early: %v", err)
	default:
	}
	if n := broker.opens.Load(); n < 2 {
		t.Fatalf("incoming stream opened %d times, want repeated reopens", n)
	}

	cancel()
	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("establish did not return after cancel")
	}
}

// viewerOffer produces a realistic offer: one recvonly video section, as the
// viewer would send.
func viewerOffer(t *testing.T) webrtc.SessionDescription {
	t.Helper()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new viewer pc: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		t.Fatalf("add transceiver: %v", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return offer
}

func TestEstablish_AnswerPrecedesCandidates(t *testing.T) {
	offer := viewerOffer(t)

	broker := newChanBroker()
	broker.incoming <- signal.Incoming{Description: &offer}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := make(chan error, 1)
	go func() {
		conn, err := peer.Establish(ctx, broker, nopSink{}, peer.Config{
			Logger:  testLogger(),
			Metrics: metrics.New(),
		})
		if conn != nil {
			_ = conn.Close()
		}
		result <- err
	}()

	select {
	case first := <-broker.outgoing:
		if _, ok := first.Description(); !ok {
			t.Fatalf("first outgoing signal is not the answer")
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for the answer")
	}

	cancel()
	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("establish did not return after cancel")
	}
}
