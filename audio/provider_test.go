package audio

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

func openGate() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func TestProviderDrainsSilenceThenEOF(t *testing.T) {
	p := newFrameProvider(context.Background(), openGate)
	finished := 0
	p.OnFinish = func() { finished++ }

	go func() {
		p.PushFrame([]byte{1})
		p.PushFrame([]byte{2})
		p.PushFrame(nil)
	}()

	for _, want := range [][]byte{{1}, {2}} {
		f, err := p.ProvideOpusFrame()
		if err != nil || !bytes.Equal(f, want) {
			t.Fatalf("expected frame %v, got %v (%v)", want, f, err)
		}
	}

	silence := 0
	for {
		f, err := p.ProvideOpusFrame()
		if err == io.EOF {
			break
		}
		if !bytes.Equal(f, OpusSilence) {
			t.Fatalf("expected silence while draining, got %v", f)
		}
		silence++
	}

	// The end marker itself yields one silent frame before the tail.
	if want := int(SilenceDuration/FrameDuration) + 1; silence != want {
		t.Fatalf("expected %d silent frames, got %d", want, silence)
	}
	if finished != 1 {
		t.Fatalf("expected OnFinish once, got %d", finished)
	}
	if p.Played() != 2*FrameDuration {
		t.Fatalf("expected 40ms played, got %s", p.Played())
	}
}

func TestProviderBlocksWhilePaused(t *testing.T) {
	gate := make(chan struct{})
	p := newFrameProvider(context.Background(), func() <-chan struct{} { return gate })
	p.frames <- []byte{7}

	got := make(chan []byte, 1)
	go func() {
		f, _ := p.ProvideOpusFrame()
		got <- f
	}()

	select {
	case f := <-got:
		t.Fatalf("expected no frame while paused, got %v", f)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case f := <-got:
		if !bytes.Equal(f, []byte{7}) {
			t.Fatalf("expected frame 7, got %v", f)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a frame after resuming")
	}
}

func TestProviderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newFrameProvider(ctx, openGate)
	cancel()

	if _, err := p.ProvideOpusFrame(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	p.PushFrame([]byte{1})
}
