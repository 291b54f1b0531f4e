package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/resonious/eyecam-net/internal/metrics"
	"github.com/resonious/eyecam-net/internal/signal"
)

const (
	controlChannelLabel = "position"
	controlChannelID    = uint16(1)

	videoTrackID     = "eye"
	videoTrackStream = "camera"
)

// Broker is the signaling surface Establish needs. The signal package's
// brokers satisfy it; tests substitute channel-backed fakes.
type Broker interface {
	OpenIncoming() <-chan signal.Incoming
	OpenOutgoing() chan<- signal.Outgoing
}

// ControlSink receives raw control-channel payloads as they arrive.
type ControlSink interface {
	Submit(payload []byte)
}

type Config struct {
	ICEServers []webrtc.ICEServer

	// API overrides the default WebRTC stack when set. Tests inject one
	// bound to a virtual network.
	API *webrtc.API

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Establish runs one full negotiation: wait for the viewer's offer, answer
// it, trickle candidates, and block until ICE settles. It returns a live
// Connection on the first connected transition, or an error on any other
// terminal transition.
//
// A signal stream that dies before an offer arrives is reopened through the
// broker and the wait starts over; there is no retry limit.
func Establish(ctx context.Context, broker Broker, sink ControlSink, cfg Config) (*Connection, error) {
	logger := cfg.Logger

	offer, incoming, err := waitForOffer(ctx, broker, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("offer received", "type", offer.Type.String())

	api := cfg.API
	if api == nil {
		api, err = NewAPI(webrtc.SettingEngine{})
		if err != nil {
			return nil, fmt.Errorf("configure webrtc: %w", err)
		}
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	conn := &Connection{
		pc:      pc,
		metrics: cfg.Metrics,
		fatal:   make(chan error, 1),
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		videoTrackID, videoTrackStream)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("new video track: %w", err)
	}
	conn.track = track

	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add video track: %w", err)
	}

	// Drain RTCP so the interceptor chain keeps processing feedback. The
	// packets themselves are not inspected.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	// The control channel is negotiated out-of-band: the viewer creates the
	// same channel with the same ID on its side. Unordered with zero
	// retransmits; a stale position is worthless.
	ordered := false
	maxRetransmits := uint16(0)
	negotiated := true
	channelID := controlChannelID
	dc, err := pc.CreateDataChannel(controlChannelLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
		Negotiated:     &negotiated,
		ID:             &channelID,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create control channel: %w", err)
	}

	dc.OnOpen(func() {
		logger.Info("control channel open")
	})
	dc.OnClose(func() {
		logger.Warn("control channel closed")
		conn.fail(ErrControlChannelClosed)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		sink.Submit(msg.Data)
	})

	// First terminal ICE transition wins; anything after it is ignored.
	stateCh := make(chan webrtc.ICEConnectionState, 1)
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		logger.Info("ice connection state changed", "state", s.String())
		switch s {
		case webrtc.ICEConnectionStateConnected,
			webrtc.ICEConnectionStateFailed,
			webrtc.ICEConnectionStateClosed,
			webrtc.ICEConnectionStateDisconnected:
			select {
			case stateCh <- s:
			default:
			}
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Info("peer connection state changed", "state", s.String())
		switch s {
		case webrtc.PeerConnectionStateDisconnected:
			conn.fail(ErrPeerDisconnected)
		case webrtc.PeerConnectionStateFailed:
			conn.fail(ErrPeerFailed)
		}
	})

	outgoing := broker.OpenOutgoing()

	// Candidates go straight from the callback into the outbound queue so
	// generation order is preserved. A nil candidate is end-of-candidates.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			logger.Debug("candidate gathering finished")
		} else {
			logger.Debug("trickling candidate", "candidate", c.String())
		}
		select {
		case outgoing <- signal.NewOutgoingCandidate(c):
		case <-ctx.Done():
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("apply offer: %w", err)
	}

	// Remote candidates and renegotiation offers keep flowing for the life
	// of the queue. Started only after the offer is applied so candidates
	// never race the remote description.
	go drainSignals(incoming, pc, logger)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return nil, errors.New("local description missing after answer")
	}
	select {
	case outgoing <- signal.NewOutgoingDescription(*local):
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}

	select {
	case state := <-stateCh:
		if state == webrtc.ICEConnectionStateConnected {
			logger.Info("peer connected")
			return conn, nil
		}
		_ = pc.Close()
		return nil, fmt.Errorf("%w: ice state %s", ErrEstablishFailed, state)
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}
}

// waitForOffer blocks until the broker delivers a session description. A
// closed incoming queue means the listener ended; a fresh one is opened and
// the wait continues. Candidates that arrive before any offer have nothing
// to attach to and are discarded.
func waitForOffer(ctx context.Context, broker Broker, logger *slog.Logger) (webrtc.SessionDescription, <-chan signal.Incoming, error) {
	incoming := broker.OpenIncoming()
	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				logger.Warn("signal stream ended while waiting for offer, reopening")
				incoming = broker.OpenIncoming()
				continue
			}
			if msg.Description != nil {
				return *msg.Description, incoming, nil
			}
			logger.Debug("discarding candidate received before offer")
		case <-ctx.Done():
			return webrtc.SessionDescription{}, nil, ctx.Err()
		}
	}
}

// drainSignals applies remote signals until the incoming queue closes.
// Individual failures are logged and skipped; one bad candidate must not
// stall the rest of the stream.
func drainSignals(incoming <-chan signal.Incoming, pc *webrtc.PeerConnection, logger *slog.Logger) {
	for msg := range incoming {
		switch {
		case msg.Description != nil:
			if err := pc.SetRemoteDescription(*msg.Description); err != nil {
				logger.Error("applying remote description failed", "err", err)
			}
		case msg.Candidate != nil:
			if err := pc.AddICECandidate(*msg.Candidate); err != nil {
				logger.Error("adding remote candidate failed", "err", err)
			}
		}
	}
	logger.Debug("signal stream drained")
}
