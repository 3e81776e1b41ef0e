// Package rtc carries the learner's microphone into the session over WebRTC
// and streams synthesized tutor voice back out. Signaling runs over a
// WebSocket with trickle ICE.
package rtc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/mirkodgzconsulting/phoebe-practice/internal/capture"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/playback"
)

const (
	micSampleRate = 16000
	micChunkBytes = 3200 // 100ms of 16kHz mono PCM16LE
)

// PCMSink receives decoded 16kHz mono microphone PCM.
type PCMSink interface {
	FeedPCM16k(pcm []byte)
}

// Binding ties one media connection to a session's audio surfaces.
type Binding struct {
	SessionID string
	Mic       PCMSink
	Gate      *capture.Gate    // mic permission reports from the client
	Voice     *playback.Fanout // outbound tutor voice attaches here
}

// signalMessage is the signaling frame format. Types: "auth", "offer",
// "answer", "candidate", "ice-complete", "permission", "bye", "error".
type signalMessage struct {
	Type string `json:"type"`
	// auth
	Token string `json:"token,omitempty"`
	// offer/answer
	SDP string `json:"sdp,omitempty"`
	// candidate
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	// permission: the client reports its mic permission prompt outcome
	Status string `json:"status,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// dev default; restrict via a reverse proxy in production
		return true
	},
}

// Handler negotiates WebRTC media connections for practice sessions.
type Handler struct {
	iceServersJSON string
	authToken      string
}

func NewHandler(iceServersJSON, authToken string) *Handler {
	return &Handler{iceServersJSON: iceServersJSON, authToken: authToken}
}

// ServeWebSocket upgrades the request and runs offer/answer plus trickle ICE
// for one media connection, then pumps mic audio into b.Mic until the peer
// goes away.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request, b Binding) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[%s] ws upgrade error: %v", b.SessionID, err)
		return
	}
	defer func() { _ = conn.Close() }()

	if h.authToken != "" && !authorized(r, h.authToken) {
		if !h.awaitAuthFrame(conn) {
			writeError(conn, errors.New("unauthorized"))
			return
		}
	}

	offerSDP, ok := h.awaitOffer(conn, b)
	if !ok {
		return
	}

	pc, outTrack, err := h.newPeer()
	if err != nil {
		writeError(conn, err)
		return
	}
	defer func() { _ = pc.Close() }()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			_ = conn.WriteJSON(signalMessage{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		_ = conn.WriteJSON(signalMessage{
			Type:          "candidate",
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	// remote candidates and permission reports keep arriving after the answer
	go h.readSignals(conn, pc, b)

	h.attachMedia(pc, outTrack, b)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		writeError(conn, err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		writeError(conn, err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		writeError(conn, err)
		return
	}
	local := pc.LocalDescription()
	if local == nil {
		writeError(conn, errors.New("no local description"))
		return
	}
	if err := conn.WriteJSON(signalMessage{Type: "answer", SDP: local.SDP}); err != nil {
		log.Printf("[%s] ws write answer error: %v", b.SessionID, err)
		return
	}

	for {
		time.Sleep(2 * time.Second)
		switch pc.ConnectionState() {
		case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			return
		}
	}
}

// awaitAuthFrame reads one frame and accepts only a matching auth message.
func (h *Handler) awaitAuthFrame(conn *websocket.Conn) bool {
	mt, data, err := conn.ReadMessage()
	if err != nil || mt != websocket.TextMessage {
		return false
	}
	var m signalMessage
	if json.Unmarshal(data, &m) != nil {
		return false
	}
	return strings.EqualFold(m.Type, "auth") && m.Token == h.authToken
}

// awaitOffer reads frames until an offer arrives, handling early permission
// reports along the way.
func (h *Handler) awaitOffer(conn *websocket.Conn, b Binding) (string, bool) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[%s] ws read error before offer: %v", b.SessionID, err)
			return "", false
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "offer":
			if m.SDP != "" {
				return m.SDP, true
			}
		case "permission":
			h.reportPermission(b, m.Status)
		case "bye":
			return "", false
		}
	}
}

func (h *Handler) readSignals(conn *websocket.Conn, pc *webrtc.PeerConnection, b Binding) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "candidate":
			if m.Candidate == "" {
				continue
			}
			_ = pc.AddICECandidate(webrtc.ICECandidateInit{
				Candidate:     m.Candidate,
				SDPMid:        m.SDPMid,
				SDPMLineIndex: m.SDPMLineIndex,
			})
		case "permission":
			h.reportPermission(b, m.Status)
		case "bye":
			_ = pc.Close()
			return
		}
	}
}

func (h *Handler) reportPermission(b Binding, status string) {
	if b.Gate == nil {
		return
	}
	switch strings.ToLower(status) {
	case "granted":
		b.Gate.Report(capture.PermissionGranted)
	case "denied":
		b.Gate.Report(capture.PermissionDenied)
	}
}

// newPeer builds a peer connection with default codecs and an outbound mono
// Opus track for the tutor voice.
func (h *Handler) newPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: parseICEServers(h.iceServersJSON)})
	if err != nil {
		return nil, nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: voiceSampleRate, Channels: 1},
		"tutor-voice", "tutor",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, outTrack, nil
}

// attachMedia wires the mic ingest loop and the outbound voice writer once
// the remote audio track shows up.
func (h *Handler) attachMedia(pc *webrtc.PeerConnection, outTrack *webrtc.TrackLocalStaticSample, b Binding) {
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("[%s] ICE state: %s", b.SessionID, state.String())
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] mic track received: codec=%s", b.SessionID, remote.Codec().MimeType)

		// a live mic track is the strongest permission signal there is
		if b.Gate != nil {
			b.Gate.Report(capture.PermissionGranted)
		}

		var detachVoice func()
		if outTrack != nil && b.Voice != nil {
			vw, err := NewVoiceWriter(outTrack)
			if err != nil {
				log.Printf("[%s] opus encoder error: %v", b.SessionID, err)
			} else {
				detachVoice = b.Voice.Attach(vw)
				pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
					switch state {
					case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
						if detachVoice != nil {
							detachVoice()
						}
						vw.Close()
					}
				})
			}
		}

		dec, err := opus.NewDecoder(micSampleRate, 1)
		if err != nil {
			log.Printf("[%s] opus decoder error: %v", b.SessionID, err)
			return
		}
		go h.pumpMic(remote, dec, b)
	})
}

// pumpMic decodes RTP Opus into 16kHz PCM and feeds the session recorder in
// fixed chunks. The recorder drops audio while the session is not recording.
func (h *Handler) pumpMic(remote *webrtc.TrackRemote, dec *opus.Decoder, b Binding) {
	buf := make([]byte, 0, micChunkBytes*4)
	samples := make([]int16, 1920)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			log.Printf("[%s] mic track closed: %v", b.SessionID, err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, samples)
		if err != nil {
			continue
		}
		start := len(buf)
		need := n * 2
		if cap(buf)-start < need {
			tmp := make([]byte, start, start+need+micChunkBytes)
			copy(tmp, buf)
			buf = tmp
		}
		buf = buf[:start+need]
		out := buf[start:]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(samples[i]))
		}
		for len(buf) >= micChunkBytes {
			b.Mic.FeedPCM16k(buf[:micChunkBytes])
			copy(buf, buf[micChunkBytes:])
			buf = buf[:len(buf)-micChunkBytes]
		}
	}
}

func parseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

func authorized(r *http.Request, token string) bool {
	if r == nil || token == "" {
		return false
	}
	if q := r.URL.Query().Get("token"); q == token {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		return strings.TrimSpace(ah[len("Bearer "):]) == token
	}
	return false
}

func writeError(conn *websocket.Conn, err error) {
	_ = conn.WriteJSON(map[string]string{"type": "error", "error": err.Error()})
}
