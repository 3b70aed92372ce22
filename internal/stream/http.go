package stream

import (
	"encoding/binary"
	"log"
	"net/http"

	"github.com/satindergrewal/tonal/internal/audio"
)

// HTTPHandler serves the mix as an endless 16-bit PCM WAV stream over
// chunked HTTP. Any browser <audio> element can play it.
type HTTPHandler struct {
	broadcaster *Broadcaster
}

// NewHTTPHandler creates an HTTP stream handler.
func NewHTTPHandler(b *Broadcaster) *HTTPHandler {
	return &HTTPHandler{broadcaster: b}
}

// streamingSize marks RIFF and data chunks of unknown length.
const streamingSize = 0xFFFFFFFF

// WAVHeader returns a 44-byte canonical WAV header for an unbounded stream
// in the engine's output format.
func WAVHeader() []byte {
	h := make([]byte, 44)
	blockAlign := audio.Channels * audio.BitDepth / 8
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], streamingSize)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:], audio.Channels)
	binary.LittleEndian.PutUint32(h[24:], audio.SampleRate)
	binary.LittleEndian.PutUint32(h[28:], uint32(audio.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:], audio.BitDepth)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], streamingSize)
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if _, err := w.Write(WAVHeader()); err != nil {
		return
	}
	flusher.Flush()

	listener := h.broadcaster.Subscribe("http")
	defer h.broadcaster.Unsubscribe(listener)

	log.Printf("HTTP listener connected (total: %d)", h.broadcaster.ListenerCount())
	defer log.Printf("HTTP listener disconnected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-listener.Done():
			return
		case frame, ok := <-listener.C:
			if !ok {
				return
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
