// Package peer establishes the WebRTC session with the viewer.
//
// The rig is always the answerer: it waits for an offer from the signal
// broker, builds a peer connection carrying one outbound H264 track and a
// pre-negotiated control channel, trickles its candidates back through the
// broker, and blocks until ICE settles. The resulting Connection accepts
// encoded video and surfaces fatal post-connect events on Done.
package peer
