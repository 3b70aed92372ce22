package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/tonal/internal/audio"
)

const (
	opusBitrate   = 128000
	maxOpusPacket = 4000
)

// WebRTCHandler negotiates WebRTC peers and streams the mix to each as a
// single Opus track. Every peer is a broadcaster listener of kind "webrtc".
type WebRTCHandler struct {
	broadcaster *Broadcaster
	config      webrtc.Configuration

	mu    sync.Mutex
	peers map[uuid.UUID]*peer
}

type peer struct {
	pc       *webrtc.PeerConnection
	track    *webrtc.TrackLocalStaticSample
	listener *Listener
}

// NewWebRTCHandler creates a WebRTC stream handler. iceServers may be empty
// for LAN use.
func NewWebRTCHandler(b *Broadcaster, iceServers ...string) *WebRTCHandler {
	h := &WebRTCHandler{broadcaster: b, peers: make(map[uuid.UUID]*peer)}
	if len(iceServers) > 0 {
		h.config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return h
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close disconnects every peer.
func (h *WebRTCHandler) Close() error {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	var errs []error
	for _, p := range peers {
		h.drop(p)
		if err := p.pc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// negotiateError carries the HTTP status for a failed negotiation step.
type negotiateError struct {
	code int
	msg  string
	err  error
}

func (e *negotiateError) Error() string { return fmt.Sprintf("%s: %v", e.msg, e.err) }

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.SDP == "" {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	p, err := h.negotiate(offer)
	if err != nil {
		var ne *negotiateError
		if errors.As(err, &ne) {
			log.Printf("WebRTC: %v", err)
			http.Error(w, ne.msg, ne.code)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p.pc.LocalDescription())
}

// negotiate answers offer and, once ICE gathering is done, registers the
// peer and starts streaming to it.
func (h *WebRTCHandler) negotiate(offer webrtc.SessionDescription) (*peer, error) {
	pc, err := webrtc.NewPeerConnection(h.config)
	if err != nil {
		return nil, &negotiateError{http.StatusInternalServerError, "create peer connection failed", err}
	}
	fail := func(code int, msg string, err error) (*peer, error) {
		pc.Close()
		return nil, &negotiateError{code, msg, err}
	}

	listener := h.broadcaster.Subscribe("webrtc")
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"tonal-"+listener.ID.String(),
	)
	if err != nil {
		h.broadcaster.Unsubscribe(listener)
		return fail(http.StatusInternalServerError, "create audio track failed", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		h.broadcaster.Unsubscribe(listener)
		return fail(http.StatusInternalServerError, "add track failed", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		h.broadcaster.Unsubscribe(listener)
		return fail(http.StatusBadRequest, "set remote description failed", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		h.broadcaster.Unsubscribe(listener)
		return fail(http.StatusInternalServerError, "create answer failed", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		h.broadcaster.Unsubscribe(listener)
		return fail(http.StatusInternalServerError, "set local description failed", err)
	}
	<-gathered

	p := &peer{pc: pc, track: track, listener: listener}
	h.mu.Lock()
	h.peers[listener.ID] = p
	total := len(h.peers)
	h.mu.Unlock()
	log.Printf("WebRTC peer %s connected (total: %d)", listener.ID, total)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			if h.drop(p) {
				pc.Close()
				log.Printf("WebRTC peer %s disconnected (remaining: %d)", listener.ID, h.PeerCount())
			}
		}
	})

	go h.streamToPeer(p)
	return p, nil
}

// drop forgets p and ends its subscription. It reports whether p was still
// registered.
func (h *WebRTCHandler) drop(p *peer) bool {
	h.mu.Lock()
	_, ok := h.peers[p.listener.ID]
	delete(h.peers, p.listener.ID)
	h.mu.Unlock()
	h.broadcaster.Unsubscribe(p.listener)
	return ok
}

func newOpusEncoder() (*opus.Encoder, error) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		return nil, err
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		return nil, err
	}
	return enc, nil
}

// streamToPeer encodes each 20ms frame and writes it to the peer's track
// until the subscription ends.
func (h *WebRTCHandler) streamToPeer(p *peer) {
	enc, err := newOpusEncoder()
	if err != nil {
		log.Printf("WebRTC: opus encoder: %v", err)
		if h.drop(p) {
			p.pc.Close()
		}
		return
	}

	packet := make([]byte, maxOpusPacket)
	for {
		select {
		case <-p.listener.Done():
			return
		case frame, ok := <-p.listener.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, packet)
			if err != nil {
				log.Printf("WebRTC: opus encode: %v", err)
				continue
			}
			if err := p.track.WriteSample(media.Sample{
				Data:     packet[:n],
				Duration: audio.FrameDuration,
			}); err != nil {
				return
			}
		}
	}
}
