package audio

import (
	"context"
	"testing"
	"time"

	"github.com/leeineian/gtatunes/proc"
)

func TestPlayerTransitionNotifiesListeners(t *testing.T) {
	p := newPlayer(context.Background(), 1, nil)

	var got []proc.PlayerStatus
	p.OnStateChange(func(old, new proc.PlayerStatus) {
		got = append(got, new)
		// Registering from inside a callback must not deadlock.
		p.OnStateChange(func(_, _ proc.PlayerStatus) {})
	})

	p.transition(proc.PlayerPlaying)
	p.transition(proc.PlayerPlaying)
	p.transition(proc.PlayerIdle)

	if len(got) != 2 || got[0] != proc.PlayerPlaying || got[1] != proc.PlayerIdle {
		t.Fatalf("expected playing then idle, got %v", got)
	}
	if p.Status() != proc.PlayerIdle {
		t.Fatalf("expected idle status, got %v", p.Status())
	}
}

func TestConnectionDroppedRunsHooks(t *testing.T) {
	c := &Connection{}
	fired := make(chan int, 2)
	c.OnDisconnect(func() { fired <- 1 })
	c.OnDisconnect(func() { fired <- 2 })

	c.dropped()

	for range 2 {
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatalf("expected both disconnect hooks to run")
		}
	}
}
