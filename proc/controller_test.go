package proc

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTrackerFixture(t *testing.T, opts TrackerOptions) (*Session, *fakeConn, *Tracker, *fakeMessenger) {
	t.Helper()
	st := testStation("flash", "a", "b")
	s, conn := newTestSession(t, newFakeCatalog(st))
	messenger := newFakeMessenger()
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	tracker := NewTracker(s, messenger, opts)
	s.Controllers = tracker

	if err := s.PlaySong(context.Background(), st.Songs[0], &st); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return s, conn, tracker, messenger
}

func TestTrackerDebounceCoalesces(t *testing.T) {
	const debounce = 100 * time.Millisecond
	s, _, tracker, messenger := newTrackerFixture(t, TrackerOptions{Debounce: debounce, ProgressInterval: time.Hour})
	ctx := context.Background()

	if _, err := tracker.Create(ctx, testText); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// Let the refresh scheduled by the play event run first.
	time.Sleep(2 * debounce)
	_, _, before, _ := messenger.counts()

	s.Pause(ctx)
	s.Resume(ctx)
	s.Pause(ctx)

	time.Sleep(3 * debounce)
	_, _, after, _ := messenger.counts()
	if after-before != 1 {
		t.Fatalf("expected 1 refresh pass for 3 events, got %d", after-before)
	}
}

func TestTrackerPrunesStaleSurfaces(t *testing.T) {
	_, _, tracker, messenger := newTrackerFixture(t, TrackerOptions{Debounce: time.Hour, ProgressInterval: time.Hour})
	ctx := context.Background()

	good, err := tracker.Create(ctx, testText)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	stale, err := tracker.Create(ctx, testChannel)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	messenger.mu.Lock()
	messenger.failEdit[stale.MessageID] = true
	messenger.mu.Unlock()

	tracker.Refresh(ctx)
	refs := tracker.Refs()
	if len(refs) != 1 || refs[0] != good {
		t.Fatalf("expected only the healthy surface to remain, got %v", refs)
	}

	tracker.Refresh(ctx)
	_, _, edits, _ := messenger.counts()
	if edits != 2 {
		t.Fatalf("expected the stale surface not to be retried, got %d edits", edits)
	}
}

func TestTrackerCreateReplacesSameChannel(t *testing.T) {
	_, _, tracker, messenger := newTrackerFixture(t, TrackerOptions{Debounce: time.Hour, ProgressInterval: time.Hour})
	ctx := context.Background()

	first, err := tracker.Create(ctx, testText)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := tracker.Create(ctx, testText)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if tracker.Len() != 1 {
		t.Fatalf("expected one surface per channel, got %d", tracker.Len())
	}
	if !messenger.wasDeleted(first) {
		t.Fatalf("expected the previous surface to be deleted")
	}
	if !tracker.Has(second.MessageID) || tracker.Has(first.MessageID) {
		t.Fatalf("expected only the new surface to be tracked")
	}
}

func TestTrackerCreateRequiresPlayback(t *testing.T) {
	s, _ := newTestSession(t, newFakeCatalog())
	tracker := NewTracker(s, newFakeMessenger(), TrackerOptions{})

	if _, err := tracker.Create(context.Background(), testText); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := tracker.Create(context.Background(), 0); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for an unknown channel, got %v", err)
	}
}

func TestTrackerDeletesSurfacesOnDestroy(t *testing.T) {
	s, _, tracker, messenger := newTrackerFixture(t, TrackerOptions{Debounce: time.Hour, ProgressInterval: time.Hour})

	ref, err := tracker.Create(context.Background(), testText)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	s.Destroy()

	if !messenger.wasDeleted(ref) {
		t.Fatalf("expected surface to be deleted with the session")
	}
	if tracker.Len() != 0 {
		t.Fatalf("expected no surfaces after destroy, got %d", tracker.Len())
	}
}

func TestTrackerDetachKeepsSurfaces(t *testing.T) {
	s, _, tracker, messenger := newTrackerFixture(t, TrackerOptions{Debounce: time.Hour, ProgressInterval: time.Hour})

	if _, err := tracker.Create(context.Background(), testText); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	tracker.Detach()
	s.Destroy()

	if _, _, _, deleted := messenger.counts(); deleted != 0 {
		t.Fatalf("expected detached surfaces to be kept, got %d deletions", deleted)
	}
}

func TestTrackerRespawnsAfterMessages(t *testing.T) {
	_, _, tracker, messenger := newTrackerFixture(t, TrackerOptions{Debounce: time.Hour, ProgressInterval: time.Hour})
	ctx := context.Background()

	first, err := tracker.Create(ctx, testText)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	tracker.NoteChannelMessage(ctx, testChannel)
	for range MessagesBeforeRespawn {
		tracker.NoteChannelMessage(ctx, testText)
	}
	if sent, _, _, _ := messenger.counts(); sent != 1 {
		t.Fatalf("expected no respawn before the threshold, got %d sends", sent)
	}

	tracker.NoteChannelMessage(ctx, testText)
	if sent, _, _, _ := messenger.counts(); sent != 2 {
		t.Fatalf("expected a respawn after the threshold, got %d sends", sent)
	}
	if !messenger.wasDeleted(first) || tracker.Len() != 1 {
		t.Fatalf("expected the old surface to be replaced")
	}
}

func TestTrackerProgressRefresh(t *testing.T) {
	_, conn, tracker, messenger := newTrackerFixture(t, TrackerOptions{
		Debounce:         10 * time.Millisecond,
		ProgressInterval: 20 * time.Millisecond,
	})
	ctx := context.Background()

	if _, err := tracker.Create(ctx, testText); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	waitFor(t, time.Second, func() bool {
		_, _, edits, _ := messenger.counts()
		return edits >= 1
	})
	time.Sleep(100 * time.Millisecond)
	_, _, settled, _ := messenger.counts()

	conn.player.setElapsed(3 * time.Second)
	time.Sleep(100 * time.Millisecond)
	if _, _, edits, _ := messenger.counts(); edits != settled {
		t.Fatalf("expected no refresh below the drift threshold, got %d edits", edits-settled)
	}

	conn.player.setElapsed(6 * time.Second)
	waitFor(t, time.Second, func() bool {
		_, _, edits, _ := messenger.counts()
		return edits > settled
	})
}
