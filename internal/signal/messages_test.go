package signal

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestClassify_SessionDescription(t *testing.T) {
	msg, err := classify([]byte(`{"type":"offer","sdp":"v=0\r\n"}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if msg.Description == nil || msg.Candidate != nil {
		t.Fatalf("expected a description signal, got %+v", msg)
	}
	if msg.Description.Type != webrtc.SDPTypeOffer || msg.Description.SDP != "v=0\r\n" {
		t.Fatalf("description = %+v", msg.Description)
	}
}

func TestClassify_Candidate(t *testing.T) {
	payload := `{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 192.0.2.1 2345 typ host","sdpMid":"0","sdpMLineIndex":0}}`
	msg, err := classify([]byte(payload))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if msg.Candidate == nil || msg.Description != nil {
		t.Fatalf("expected a candidate signal, got %+v", msg)
	}
	if msg.Candidate.Candidate == "" || msg.Candidate.SDPMid == nil || *msg.Candidate.SDPMid != "0" {
		t.Fatalf("candidate = %+v", msg.Candidate)
	}
}

func TestClassify_SDPWinsOverCandidate(t *testing.T) {
	// Schema classification checks sdp first.
	msg, err := classify([]byte(`{"sdp":"x","candidate":{"candidate":""}}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if msg.Description == nil {
		t.Fatalf("expected description, got %+v", msg)
	}
}

func TestClassify_Unknown(t *testing.T) {
	_, err := classify([]byte(`{"hello":"world"}`))
	if !errors.Is(err, errUnknownSignal) {
		t.Fatalf("err = %v, want errUnknownSignal", err)
	}
}

func TestClassify_MalformedJSON(t *testing.T) {
	_, err := classify([]byte(`{"sdp":`))
	if err == nil || errors.Is(err, errUnknownSignal) {
		t.Fatalf("err = %v, want parse error", err)
	}
}

func TestClassify_CandidateWrongShape(t *testing.T) {
	// A bare string candidate field is not an init object.
	_, err := classify([]byte(`{"candidate":"candidate:1 1 udp"}`))
	if err == nil || errors.Is(err, errUnknownSignal) {
		t.Fatalf("err = %v, want parse error", err)
	}
}

func TestMarshalBody_Description(t *testing.T) {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}
	body, err := NewOutgoingDescription(desc).marshalBody()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var round webrtc.SessionDescription
	if err := json.Unmarshal(body, &round); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if round.Type != webrtc.SDPTypeAnswer || round.SDP != "v=0\r\n" {
		t.Fatalf("round-trip = %+v", round)
	}
}

func TestMarshalBody_EndOfCandidates(t *testing.T) {
	body, err := NewOutgoingCandidate(nil).marshalBody()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var env struct {
		Type      string               `json:"type"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "candidate" {
		t.Fatalf("type = %q, want candidate", env.Type)
	}
	if env.Candidate.Candidate != "" {
		t.Fatalf("sentinel candidate = %q, want empty", env.Candidate.Candidate)
	}
	if env.Candidate.SDPMid == nil || *env.Candidate.SDPMid != "0" {
		t.Fatalf("sentinel sdpMid = %v, want \"0\"", env.Candidate.SDPMid)
	}
	if env.Candidate.SDPMLineIndex == nil || *env.Candidate.SDPMLineIndex != 0 {
		t.Fatalf("sentinel sdpMLineIndex = %v, want 0", env.Candidate.SDPMLineIndex)
	}
}

func TestMarshalBody_Candidate(t *testing.T) {
	c := &webrtc.ICECandidate{
		Foundation: "foundation",
		Priority:   2130706431,
		Address:    "192.0.2.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       2345,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	}
	body, err := NewOutgoingCandidate(c).marshalBody()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var env struct {
		Type      string          `json:"type"`
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "candidate" {
		t.Fatalf("type = %q, want candidate", env.Type)
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Candidate, &init); err != nil {
		t.Fatalf("unmarshal inner candidate: %v", err)
	}
	if init.Candidate == "" {
		t.Fatalf("candidate string empty, want marshalled candidate")
	}
}
