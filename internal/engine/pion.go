package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Pion builds peer connections on pion/webrtc. Media capture is not this
// layer's job: connections carry recvonly transceivers so offers and answers
// always contain valid m-lines, and whatever sits above can renegotiate
// sending tracks if it has any.
type Pion struct {
	mu         sync.Mutex
	iceServers []string
}

// NewPion creates an engine using the given STUN/TURN URLs.
func NewPion(iceServers []string) *Pion {
	return &Pion{iceServers: iceServers}
}

// SetICEServers replaces the STUN/TURN list for connections created from
// now on. Existing connections are unaffected.
func (e *Pion) SetICEServers(urls []string) {
	e.mu.Lock()
	e.iceServers = append([]string(nil), urls...)
	e.mu.Unlock()
}

func (e *Pion) NewConn(h Handlers) (Conn, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("engine: register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("engine: register interceptors: %w", err)
	}

	// Generous ICE timeouts so a brief relay/NAT hiccup does not
	// immediately terminate the session. The 5 s default disconnect
	// timeout is too short for relayed paths.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	e.mu.Lock()
	servers := append([]string(nil), e.iceServers...)
	e.mu.Unlock()

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: servers}},
	})
	if err != nil {
		return nil, fmt.Errorf("engine: new peer connection: %w", err)
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("engine: add %s transceiver: %w", kind, err)
		}
	}

	// Handlers go on before any description is set.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || h.OnCandidate == nil {
			return // nil marks end of gathering
		}
		h.OnCandidate(c.ToJSON())
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if h.OnTrack != nil {
			h.OnTrack(track.Kind().String())
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if h.OnStateChange != nil {
			h.OnStateChange(s)
		}
	})

	return &pionConn{pc: pc}, nil
}

type pionConn struct {
	pc *webrtc.PeerConnection
}

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *pionConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *pionConn) AddCandidate(init webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(init)
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}
