package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var errUnknownSignal = errors.New("signal payload has neither sdp nor candidate")

// Incoming is one classified signal received from the viewer. Exactly one
// field is set.
type Incoming struct {
	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit
}

// classify decides what a raw relay payload is by schema: a top-level "sdp"
// field means a session description, otherwise a "candidate" field means an
// ICE candidate (the candidate value itself is the init object). Anything
// else is rejected.
func classify(data []byte) (Incoming, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Incoming{}, fmt.Errorf("invalid json signal: %w", err)
	}

	if _, ok := fields["sdp"]; ok {
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(data, &desc); err != nil {
			return Incoming{}, fmt.Errorf("invalid session description signal: %w", err)
		}
		return Incoming{Description: &desc}, nil
	}

	if raw, ok := fields["candidate"]; ok {
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal(raw, &init); err != nil {
			return Incoming{}, fmt.Errorf("invalid candidate signal: %w", err)
		}
		return Incoming{Candidate: &init}, nil
	}

	return Incoming{}, errUnknownSignal
}

type outgoingKind int

const (
	outgoingDescription outgoingKind = iota
	outgoingCandidate
)

// Outgoing is one signal bound for the viewer.
type Outgoing struct {
	kind        outgoingKind
	description webrtc.SessionDescription
	candidate   *webrtc.ICECandidate
}

func NewOutgoingDescription(desc webrtc.SessionDescription) Outgoing {
	return Outgoing{kind: outgoingDescription, description: desc}
}

// NewOutgoingCandidate wraps a locally gathered candidate for trickle ICE.
// A nil candidate marks end-of-candidates.
func NewOutgoingCandidate(c *webrtc.ICECandidate) Outgoing {
	return Outgoing{kind: outgoingCandidate, candidate: c}
}

// Description returns the wrapped session description when this is a
// description signal.
func (o Outgoing) Description() (webrtc.SessionDescription, bool) {
	return o.description, o.kind == outgoingDescription
}

// Candidate returns the wrapped candidate when this is a candidate signal.
// A nil candidate with ok true is the end-of-candidates marker.
func (o Outgoing) Candidate() (*webrtc.ICECandidate, bool) {
	return o.candidate, o.kind == outgoingCandidate
}

// endOfCandidatesJSON is the sentinel the viewer understands as "gathering
// finished".
var endOfCandidatesJSON = json.RawMessage(`{"candidate":"","sdpMLineIndex":0,"sdpMid":"0"}`)

type candidateEnvelope struct {
	Type      string          `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
}

// marshalBody produces the wire body: a session description is sent raw, a
// candidate is wrapped in a typed envelope.
func (o Outgoing) marshalBody() ([]byte, error) {
	switch o.kind {
	case outgoingDescription:
		return json.Marshal(o.description)
	case outgoingCandidate:
		inner := endOfCandidatesJSON
		if o.candidate != nil {
			raw, err := json.Marshal(o.candidate.ToJSON())
			if err != nil {
				return nil, fmt.Errorf("marshal candidate: %w", err)
			}
			inner = raw
		}
		return json.Marshal(candidateEnvelope{Type: "candidate", Candidate: inner})
	default:
		return nil, fmt.Errorf("unknown outgoing signal kind %d", o.kind)
	}
}
