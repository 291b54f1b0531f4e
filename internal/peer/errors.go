package peer

import "errors"

var (
	// ErrEstablishFailed reports that ICE reached a terminal state other
	// than connected during negotiation.
	ErrEstablishFailed = errors.New("negotiation ended without connecting")

	// ErrPeerDisconnected reports that an established connection lost its
	// transport.
	ErrPeerDisconnected = errors.New("peer connection disconnected")

	// ErrPeerFailed reports that an established connection failed outright.
	ErrPeerFailed = errors.New("peer connection failed")

	// ErrControlChannelClosed reports that the viewer closed the control
	// channel.
	ErrControlChannelClosed = errors.New("control channel closed")
)
