package signal

import "github.com/pion/webrtc/v4"

// ToICE converts the relay encoding to the engine's candidate shape.
func (c CandidateInit) ToICE() webrtc.ICECandidateInit {
	label := c.Label
	init := webrtc.ICECandidateInit{
		Candidate:     c.ID,
		SDPMLineIndex: &label,
	}
	if c.SDPMid != "" {
		mid := c.SDPMid
		init.SDPMid = &mid
	}
	return init
}

// CandidateFromICE converts a locally discovered candidate to the relay
// encoding.
func CandidateFromICE(init webrtc.ICECandidateInit) CandidateInit {
	c := CandidateInit{Type: "candidate", ID: init.Candidate}
	if init.SDPMLineIndex != nil {
		c.Label = *init.SDPMLineIndex
	}
	if init.SDPMid != nil {
		c.SDPMid = *init.SDPMid
	}
	return c
}
