// Package api is the JSON control surface served by tonal serve.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/satindergrewal/tonal/internal/audio"
	"github.com/satindergrewal/tonal/internal/catalog"
	"github.com/satindergrewal/tonal/internal/engine"
	"github.com/satindergrewal/tonal/internal/ledger"
	"github.com/satindergrewal/tonal/internal/mixer"
	"github.com/satindergrewal/tonal/internal/session"
	"github.com/satindergrewal/tonal/internal/spatial"
	"github.com/satindergrewal/tonal/internal/synth"
)

const recentCompletions = 10

// Server routes API requests to the engine.
type Server struct {
	eng     *engine.Engine
	catalog *catalog.Catalog
	history *ledger.Store

	listeners func() int
}

// New creates a server. history may be nil, in which case /api/history
// answers 404.
func New(eng *engine.Engine, cat *catalog.Catalog, history *ledger.Store) *Server {
	return &Server{eng: eng, catalog: cat, history: history}
}

// SetListenerCountFunc reports connected stream listeners in /api/status.
func (s *Server) SetListenerCountFunc(fn func() int) {
	s.listeners = fn
}

// Register mounts every /api route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.status)
	mux.HandleFunc("/api/catalog", s.listCatalog)
	mux.HandleFunc("/api/play", post(s.play))
	mux.HandleFunc("/api/start", post(s.start))
	mux.HandleFunc("/api/pause", post(s.pause))
	mux.HandleFunc("/api/resume", post(s.resume))
	mux.HandleFunc("/api/stop", post(s.stop))
	mux.HandleFunc("/api/layer", post(s.layer))
	mux.HandleFunc("/api/volume", post(s.volume))
	mux.HandleFunc("/api/spatial", post(s.setSpatial))
	mux.HandleFunc("/api/breath", post(s.breath))
	mux.HandleFunc("/api/timer", post(s.timer))
	mux.HandleFunc("/api/analyser", s.analyser)
	mux.HandleFunc("/api/history", s.listHistory)
}

func post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// fail maps engine errors onto HTTP status codes.
func fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, audio.ErrInvalidParams),
		errors.Is(err, audio.ErrUnknownFrequency),
		errors.Is(err, catalog.ErrUnknownSession):
		code = http.StatusBadRequest
	case errors.Is(err, audio.ErrNotPlaying),
		errors.Is(err, audio.ErrNoSession):
		code = http.StatusConflict
	case errors.Is(err, audio.ErrResumeFailure),
		errors.Is(err, audio.ErrUnsupportedPlatform):
		code = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), code)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) ok(w http.ResponseWriter) {
	writeJSON(w, map[string]any{"ok": true, "status": s.eng.Status()})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		engine.Status
		Listeners int `json:"listeners"`
	}{Status: s.eng.Status()}
	if s.listeners != nil {
		resp.Listeners = s.listeners()
	}
	writeJSON(w, resp)
}

func (s *Server) listCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"frequencies": s.catalog.Frequencies,
		"sessions":    s.catalog.Sessions,
	})
}

func (s *Server) play(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Frequency string `json:"frequency"`
	}
	if !decode(w, r, &req) {
		return
	}
	f, err := s.catalog.FindFrequency(req.Frequency)
	if err != nil {
		fail(w, err)
		return
	}
	if err := s.eng.Play(r.Context(), f); err != nil && !errors.Is(err, audio.ErrAutoplayBlocked) {
		fail(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Session string `json:"session"`
	}
	if !decode(w, r, &req) {
		return
	}
	sess, err := s.catalog.FindSession(req.Session)
	if err != nil {
		fail(w, err)
		return
	}
	if err := s.eng.Start(r.Context(), sess, s.catalog); err != nil && !errors.Is(err, audio.ErrAutoplayBlocked) {
		fail(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Pause(); err != nil {
		fail(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Resume(r.Context()); err != nil {
		fail(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	s.eng.Stop()
	s.ok(w)
}

func (s *Server) layer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Layer     string `json:"layer"`
		Enabled   *bool  `json:"enabled"`
		Frequency string `json:"frequency"`
	}
	if !decode(w, r, &req) {
		return
	}
	id, err := mixer.ParseID(req.Layer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var f *synth.Frequency
	if req.Frequency != "" {
		found, err := s.catalog.FindFrequency(req.Frequency)
		if err != nil {
			fail(w, err)
			return
		}
		f = &found
	}
	switch {
	case req.Enabled != nil:
		err = s.eng.ToggleLayer(id, *req.Enabled, f)
	case f != nil:
		err = s.eng.SetLayerFrequency(id, *f)
	default:
		http.Error(w, "enabled or frequency required", http.StatusBadRequest)
		return
	}
	if err != nil {
		fail(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) volume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Layer  string `json:"layer"`
		Volume int    `json:"volume"`
	}
	if !decode(w, r, &req) {
		return
	}
	id, err := mixer.ParseID(req.Layer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.eng.SetVolume(id, req.Volume)
	s.ok(w)
}

func (s *Server) setSpatial(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Layer string `json:"layer"`
		Mode  string `json:"mode"`
		Speed int    `json:"speed"`
		Depth int    `json:"depth"`
	}
	if !decode(w, r, &req) {
		return
	}
	id, err := mixer.ParseID(req.Layer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode, err := spatial.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.eng.SetSpatialization(id, mode, spatial.Settings{Speed: req.Speed, Depth: req.Depth})
	s.ok(w)
}

func (s *Server) breath(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Progress float64 `json:"progress"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.SetBreathPhase(req.Progress); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

// timer arms the auto-stop. Zero seconds clears it.
func (s *Server) timer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds float64 `json:"seconds"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Seconds == 0 {
		s.eng.ClearTimer()
		s.ok(w)
		return
	}
	if err := s.eng.SetTimer(time.Duration(req.Seconds * float64(time.Second))); err != nil {
		fail(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) analyser(w http.ResponseWriter, r *http.Request) {
	a := s.eng.Analyser()
	spectrum := make([]uint8, a.FrequencyBinCount())
	n := a.ByteFrequency(spectrum)
	bins := make([]int, n)
	for i, v := range spectrum[:n] {
		bins[i] = int(v)
	}
	writeJSON(w, map[string]any{
		"rms":       a.RMS(),
		"fft_size":  a.FFTSize(),
		"frequency": bins,
	})
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	sum, err := s.history.Summary(r.Context(), recentCompletions)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, sum)
}

// RecordHistory stores the engine's listening deltas and qualifying
// completions in store.
func RecordHistory(eng *engine.Engine, store *ledger.Store) {
	eng.SetMindfulFunc(func(d time.Duration) {
		id := eng.Status().SessionID
		if err := store.RecordListening(context.Background(), id, d); err != nil {
			log.Printf("History: %v", err)
		}
	})
	eng.SetCompletionFunc(func(c session.Completed) {
		if _, err := store.RecordCompletion(context.Background(), c.ID, c.Name, c.Cumulative); err != nil {
			log.Printf("History: %v", err)
		}
	})
}
