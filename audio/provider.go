package audio

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var (
	OpusSilence     = []byte{0xf8, 0xff, 0xfe}
	SilenceDuration = 1 * time.Second
)

// frameProvider feeds transcoded Opus frames to the voice connection. A nil
// frame marks the end of the stream; the provider then plays a short tail of
// silence before reporting io.EOF.
type frameProvider struct {
	frames        chan []byte
	OnFinish      func()
	once          sync.Once
	ctx           context.Context
	gate          func() <-chan struct{}
	played        atomic.Int64
	draining      bool
	silenceFrames int
}

func newFrameProvider(ctx context.Context, gate func() <-chan struct{}) *frameProvider {
	return &frameProvider{
		frames: make(chan []byte, 100),
		ctx:    ctx,
		gate:   gate,
	}
}

func (p *frameProvider) Close() {
	p.once.Do(func() {
		if p.OnFinish != nil {
			p.OnFinish()
		}
	})
}

func (p *frameProvider) PushFrame(f []byte) {
	select {
	case p.frames <- f:
	case <-p.ctx.Done():
	}
}

// Played is the audio delivered so far.
func (p *frameProvider) Played() time.Duration {
	return time.Duration(p.played.Load()) * FrameDuration
}

func (p *frameProvider) ProvideOpusFrame() ([]byte, error) {
	select {
	case <-p.gate():
	case <-p.ctx.Done():
		return nil, io.EOF
	}

	if p.draining {
		target := int(SilenceDuration / FrameDuration)
		if p.silenceFrames < target {
			p.silenceFrames++
			return OpusSilence, nil
		}
		p.Close()
		return nil, io.EOF
	}

	select {
	case f := <-p.frames:
		if f == nil {
			p.draining = true
			return OpusSilence, nil
		}
		p.played.Add(1)
		return f, nil
	case <-p.ctx.Done():
		p.Close()
		return nil, io.EOF
	case <-time.After(500 * time.Millisecond):
		return OpusSilence, nil
	}
}
