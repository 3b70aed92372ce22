package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/tonal/internal/audio"
	"github.com/satindergrewal/tonal/internal/clock"
	"github.com/satindergrewal/tonal/internal/device"
	"github.com/satindergrewal/tonal/internal/engine"
	"github.com/satindergrewal/tonal/internal/graph"
	"github.com/satindergrewal/tonal/internal/ledger"
	"github.com/satindergrewal/tonal/internal/mixer"
	"github.com/satindergrewal/tonal/internal/session"
	"github.com/satindergrewal/tonal/internal/stream"
	"github.com/satindergrewal/tonal/internal/synth"
)

func TestRootRejectsUnknownFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "xml", "catalog"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestCatalogCommandText(t *testing.T) {
	t.Setenv("TONAL_CATALOG", "")

	buf := &bytes.Buffer{}
	cmd := NewCatalogCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "FREQUENCY")
	assert.Contains(t, out, "om-136")
	assert.Contains(t, out, "L 136.1 Hz, R 143.93 Hz")
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "focus")
	assert.Contains(t, out, "25m0s")
}

func TestCatalogCommandJSON(t *testing.T) {
	t.Setenv("TONAL_CATALOG", "")

	buf := &bytes.Buffer{}
	cmd := NewCatalogCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	var resp struct {
		Frequencies []synth.Frequency `json:"frequencies"`
		Sessions    []session.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Len(t, resp.Frequencies, 14)
	assert.Len(t, resp.Sessions, 4)
}

func TestCatalogCommandBadFile(t *testing.T) {
	t.Setenv("TONAL_CATALOG", filepath.Join(t.TempDir(), "missing.yaml"))

	cmd := NewCatalogCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.Execute())
}

func TestHistoryCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := ledger.Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.RecordListening(ctx, "focus", 90*time.Second))
	require.NoError(t, store.RecordListening(ctx, "focus", 300*time.Second))
	_, err = store.RecordCompletion(ctx, "focus", "Focus", 390*time.Second)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	t.Setenv("TONAL_DB", path)

	buf := &bytes.Buffer{}
	cmd := NewHistoryCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "Mindful time: 6m30s")
	assert.Contains(t, out, "Completed sessions: 1")
	assert.Contains(t, out, "Focus")
}

func TestHistoryCommandDisabled(t *testing.T) {
	t.Setenv("TONAL_DB", "")

	cmd := NewHistoryCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TONAL_DB")
}

func TestReportStep(t *testing.T) {
	var st engine.Status
	st.SessionName = "Focus"
	st.SessionID = "focus"
	st.StepIndex = 1
	st.StepCount = 3
	st.StepDuration = 1200
	st.Layers[mixer.Main] = mixer.LayerStatus{Frequency: "beta-14", Mode: synth.Binaural}

	buf := &bytes.Buffer{}
	require.NoError(t, reportStep(buf, "text", st))
	assert.Equal(t, "Focus: step 2/3, beta-14 for 20m0s\n", buf.String())

	st.SessionID = ""
	buf.Reset()
	require.NoError(t, reportStep(buf, "text", st))
	assert.Equal(t, "Playing beta-14 (binaural)\n", buf.String())

	buf.Reset()
	require.NoError(t, reportStep(buf, "json", st))
	var decoded engine.Status
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "beta-14", decoded.Layers[mixer.Main].Frequency)
}

func TestFollowPlaybackUntilSessionEnds(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 22, 0, 0, 0, time.UTC))
	mx := mixer.New(graph.NewContext(audio.SampleRate), clk)
	eng := engine.New(device.NewStream(mx, stream.NewBroadcaster()), mx, clk, 0)

	updates := make(chan engine.Status, 64)
	eng.SetStatusFunc(func(st engine.Status) {
		select {
		case updates <- st:
		default:
		}
	})

	lookup := session.Table{
		"om":    {ID: "om", Mode: synth.Pure, Base: 136.1},
		"theta": {ID: "theta", Mode: synth.Binaural, Base: 200, Beat: 6},
	}
	sess := session.Session{ID: "short", Name: "Short", Steps: []session.Step{
		{Duration: 2, Main: "om"},
		{Duration: 2, Main: "theta"},
	}}
	require.NoError(t, eng.Start(context.Background(), sess, lookup))

	buf := &bytes.Buffer{}
	done := make(chan error, 1)
	go func() { done <- followPlayback(context.Background(), eng, updates, "text", buf) }()

	clk.Advance(5 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("followPlayback did not return after the session ended")
	}
	assert.Equal(t, "Short: step 1/2, om for 2s\nShort: step 2/2, theta for 2s\n", buf.String())
}
