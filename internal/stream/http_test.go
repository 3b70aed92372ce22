package stream

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWAVHeader(t *testing.T) {
	h := WAVHeader()
	if len(h) != 44 {
		t.Fatalf("header length = %d, want 44", len(h))
	}
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" || string(h[36:40]) != "data" {
		t.Errorf("bad chunk ids: %q", h)
	}
	if got := binary.LittleEndian.Uint16(h[22:]); got != 2 {
		t.Errorf("channels = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint32(h[24:]); got != 48000 {
		t.Errorf("sample rate = %d, want 48000", got)
	}
	if got := binary.LittleEndian.Uint32(h[28:]); got != 48000*4 {
		t.Errorf("byte rate = %d, want %d", got, 48000*4)
	}
	if got := binary.LittleEndian.Uint16(h[34:]); got != 16 {
		t.Errorf("bits = %d, want 16", got)
	}
}

func TestHTTPStreamsPCM(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []int16, 10)
	go b.Run(ctx, source)

	srv := httptest.NewServer(NewHTTPHandler(b))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}

	header := make([]byte, 44)
	if _, err := io.ReadFull(resp.Body, header); err != nil {
		t.Fatalf("read header: %v", err)
	}

	// Wait for the handler to subscribe before sending.
	deadline := time.Now().Add(2 * time.Second)
	for b.ListenerCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	source <- []int16{1, -1, 256, -256}

	pcm := make([]byte, 8)
	if _, err := io.ReadFull(resp.Body, pcm); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	want := []int16{1, -1, 256, -256}
	for i, v := range want {
		if got := int16(binary.LittleEndian.Uint16(pcm[i*2:])); got != v {
			t.Errorf("sample %d = %d, want %d", i, got, v)
		}
	}
}
