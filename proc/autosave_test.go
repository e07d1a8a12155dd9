package proc

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type verifierFunc func(ctx context.Context, state SessionState) error

func (f verifierFunc) Verify(ctx context.Context, state SessionState) error { return f(ctx, state) }

func TestAutosaveRoundTrip(t *testing.T) {
	st := testStation("flash", "a", "b")
	cat := newFakeCatalog(st)
	path := filepath.Join(t.TempDir(), "autosave.json")
	now := time.Unix(1_700_000_000, 0)
	ctx := context.Background()

	transport := &fakeTransport{}
	r := newTestRegistry(cat, transport, newFakeMessenger(), nil)
	saver := NewAutosaver(r, nil, AutosaveOptions{Path: path, Now: func() time.Time { return now }})
	if _, err := saver.Restore(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	s, _, err := r.Create(ctx, testGuild, testChannel, testOwner)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := s.PlaySong(ctx, st.Songs[1], &st); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := s.Settings.Set(SettingEnableDjs, false); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	surface := MessageRef{ChannelID: testText, MessageID: 300000000000000001}
	s.Controllers.Add(surface)
	transport.last().player.setElapsed(42 * time.Second)

	if err := saver.Save(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	r.Shutdown()

	restoredTransport := &fakeTransport{}
	r2 := newTestRegistry(cat, restoredTransport, newFakeMessenger(), nil)
	restorer := NewAutosaver(r2, nil, AutosaveOptions{Path: path, Now: func() time.Time { return now.Add(time.Minute) }})

	sessions, err := restorer.Restore(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 restored session, got %d", len(sessions))
	}

	restored := r2.Get(testGuild)
	if restored == nil || restored != sessions[0] {
		t.Fatalf("expected the restored session to be registered")
	}
	defer restored.Destroy()

	if song := restored.Song(); song == nil || song.Name != "b" {
		t.Fatalf("expected song b, got %+v", song)
	}
	if off := restoredTransport.last().player.startOffset(); off != 42*time.Second {
		t.Fatalf("expected stream to start at 42s, got %s", off)
	}
	if ts, ok := restored.CurrentTimestamp(); !ok || ts != 42 {
		t.Fatalf("expected timestamp 42, got %v (%v)", ts, ok)
	}
	if restored.IsPaused() {
		t.Fatalf("expected restored session to be playing")
	}
	if restored.Settings.Get(SettingEnableDjs) {
		t.Fatalf("expected settings to be restored")
	}
	if refs := restored.Controllers.Refs(); len(refs) != 1 || refs[0] != surface {
		t.Fatalf("expected surface %v to be re-attached, got %v", surface, refs)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected snapshot to be consumed, got %v", err)
	}
}

func TestAutosaveExpired(t *testing.T) {
	st := testStation("flash", "a")
	cat := newFakeCatalog(st)
	path := filepath.Join(t.TempDir(), "autosave.json")
	now := time.Unix(1_700_000_000, 0)
	ctx := context.Background()

	r := newTestRegistry(cat, &fakeTransport{}, nil, nil)
	s, _, err := r.Create(ctx, testGuild, testChannel, testOwner)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := s.PlaySong(ctx, st.Songs[0], &st); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	saver := NewAutosaver(r, nil, AutosaveOptions{Path: path, Now: func() time.Time { return now }})
	if _, err := saver.Restore(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := saver.Save(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	r.Shutdown()

	r2 := newTestRegistry(cat, &fakeTransport{}, nil, nil)
	late := NewAutosaver(r2, nil, AutosaveOptions{Path: path, Now: func() time.Time { return now.Add(6 * time.Minute) }})

	sessions, err := late.Restore(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(sessions) != 0 || r2.Get(testGuild) != nil {
		t.Fatalf("expected no session from an expired snapshot")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected expired snapshot to be removed, got %v", err)
	}
}

func TestAutosaveSkipsUnverified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autosave.json")
	snap := Snapshot{
		SavedAt: time.Now().Unix(),
		States:  []SessionState{{Guild: testGuild, VoiceChannel: testChannel, Owner: testOwner}},
	}
	data, _ := json.Marshal(snap)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}

	transport := &fakeTransport{}
	r := newTestRegistry(newFakeCatalog(), transport, nil, nil)
	verifier := verifierFunc(func(context.Context, SessionState) error { return errors.New("nobody is listening") })

	sessions, err := NewAutosaver(r, verifier, AutosaveOptions{Path: path}).Restore(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(sessions) != 0 || len(transport.conns) != 0 {
		t.Fatalf("expected unverified state to be skipped")
	}
}

func TestAutosaveRemovesFileWhenIdle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autosave.json")
	r := newTestRegistry(newFakeCatalog(), &fakeTransport{}, nil, nil)
	saver := NewAutosaver(r, nil, AutosaveOptions{Path: path})
	if _, err := saver.Restore(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"states":[],"saved_at":0}`), 0o644); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}
	if err := saver.Save(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected snapshot to be removed, got %v", err)
	}
}

func TestAutosaveLayout(t *testing.T) {
	st := testStation("flash", "a")
	r := newTestRegistry(newFakeCatalog(st), &fakeTransport{}, newFakeMessenger(), nil)
	ctx := context.Background()

	s, _, err := r.Create(ctx, testGuild, testChannel, testOwner)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer s.Destroy()
	s.Controllers.Add(MessageRef{ChannelID: testText, MessageID: 300000000000000001})

	data, err := json.Marshal(NewAutosaver(r, nil, AutosaveOptions{}).Snapshot())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	out := string(data)
	for _, want := range []string{
		`"saved_at":`,
		`"voiceChannel":"100000000000000002"`,
		`"controllerSurfaces":[["100000000000000004","300000000000000001"]]`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
	if strings.Contains(out, `"playback"`) {
		t.Fatalf("expected no playback for an idle session, got %s", out)
	}
}

func TestAutosaveCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autosave.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}

	r := newTestRegistry(newFakeCatalog(), &fakeTransport{}, nil, nil)
	if _, err := NewAutosaver(r, nil, AutosaveOptions{Path: path}).Restore(context.Background()); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestAutosaveKeepsSnapshotUntilRestored(t *testing.T) {
	st := testStation("flash", "a")
	cat := newFakeCatalog(st)
	path := filepath.Join(t.TempDir(), "autosave.json")
	snap := Snapshot{
		SavedAt: time.Now().Unix(),
		States: []SessionState{{
			Guild: testGuild, VoiceChannel: testChannel, Owner: testOwner,
			Playback: &PlaybackState{Song: st.Songs[0]},
		}},
	}
	data, _ := json.Marshal(snap)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}

	r := newTestRegistry(cat, &fakeTransport{}, nil, nil)
	saver := NewAutosaver(r, nil, AutosaveOptions{Path: path, Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		saver.Run(ctx)
	}()
	time.Sleep(50 * time.Millisecond)

	if err := saver.Save(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected snapshot to survive saves before restore, got %v", err)
	}

	sessions, err := saver.Restore(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 restored session, got %d", len(sessions))
	}
	defer sessions[0].Destroy()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to stop after cancel")
	}
}
