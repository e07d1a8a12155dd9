package audio

import (
	"context"
	"io"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/gtatunes/proc"
	"github.com/leeineian/gtatunes/sys"
)

const (
	MsgPlayerStreamStart    = "Stream started in guild %s (offset %s)"
	MsgPlayerStreamFinished = "Stream finished in guild %s"
	MsgPlayerStreamStopped  = "Stream stopped in guild %s"
	MsgPlayerTranscodeFail  = "Transcoder %s failed in guild %s: %v"
	MsgPlayerProviderRetry  = "Exhausted retries for SetOpusFrameProvider in guild %s"
	MsgPlayerSpeakingRetry  = "Exhausted retries for SetSpeaking in guild %s"
)

// Player streams one source at a time into a voice connection.
type Player struct {
	guildID snowflake.ID
	conn    voice.Conn
	ctx     context.Context

	mu        sync.Mutex
	status    proc.PlayerStatus
	provider  *frameProvider
	cancel    context.CancelFunc
	listeners []func(old, new proc.PlayerStatus)

	pauseMu   sync.RWMutex
	pauseChan chan struct{}
}

func newPlayer(ctx context.Context, guildID snowflake.ID, conn voice.Conn) *Player {
	p := &Player{
		guildID:   guildID,
		conn:      conn,
		ctx:       ctx,
		pauseChan: make(chan struct{}),
	}
	close(p.pauseChan)
	return p
}

func (p *Player) gate() <-chan struct{} {
	p.pauseMu.RLock()
	defer p.pauseMu.RUnlock()
	return p.pauseChan
}

func (p *Player) Play(src io.ReadCloser, start time.Duration) error {
	if err := p.ctx.Err(); err != nil {
		src.Close()
		return err
	}
	p.Stop()

	ctx, cancel := context.WithCancel(p.ctx)
	prov := newFrameProvider(ctx, p.gate)
	prov.OnFinish = func() {
		sys.SafeGo(func() { p.finish(prov) })
	}

	p.pauseMu.Lock()
	select {
	case <-p.pauseChan:
	default:
		close(p.pauseChan)
	}
	p.pauseMu.Unlock()

	p.mu.Lock()
	p.provider = prov
	p.cancel = cancel
	p.mu.Unlock()
	p.transition(proc.PlayerBuffering)

	sys.SafeGo(func() { p.transcode(ctx, prov, src, start) })

	p.setOpusFrameProviderSafe(prov)
	p.setSpeakingSafe(voice.SpeakingFlagMicrophone)
	sys.LogVoice(MsgPlayerStreamStart, p.guildID, start)

	p.mu.Lock()
	current := p.provider == prov
	p.mu.Unlock()
	if current {
		p.transition(proc.PlayerPlaying)
	}
	return nil
}

func (p *Player) transcode(ctx context.Context, prov *frameProvider, src io.ReadCloser, start time.Duration) {
	defer src.Close()
	defer prov.PushFrame(nil)

	t := NewTranscoder(start)
	defer t.Close()
	if err := t.OpenInput(src); err != nil {
		sys.LogVoice(MsgPlayerTranscodeFail, "OpenInput", p.guildID, err)
		return
	}
	if err := t.SetupDecoder(); err != nil {
		sys.LogVoice(MsgPlayerTranscodeFail, "SetupDecoder", p.guildID, err)
		return
	}
	if err := t.SetupEncoder(); err != nil {
		sys.LogVoice(MsgPlayerTranscodeFail, "SetupEncoder", p.guildID, err)
		return
	}
	// The final nil from Transcode is dropped; the deferred push covers every exit path.
	if err := t.Transcode(ctx, func(f []byte) {
		if f != nil {
			prov.PushFrame(f)
		}
	}); err != nil && ctx.Err() == nil {
		sys.LogVoice(MsgPlayerTranscodeFail, "Transcode", p.guildID, err)
	}
}

func (p *Player) finish(prov *frameProvider) {
	p.mu.Lock()
	if p.provider != prov {
		p.mu.Unlock()
		return
	}
	p.provider = nil
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.release()
	sys.LogVoice(MsgPlayerStreamFinished, p.guildID)
	p.transition(proc.PlayerIdle)
}

func (p *Player) Pause() bool {
	p.mu.Lock()
	if p.status != proc.PlayerPlaying {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	p.pauseMu.Lock()
	select {
	case <-p.pauseChan:
		p.pauseChan = make(chan struct{})
	default:
	}
	p.pauseMu.Unlock()

	p.transition(proc.PlayerPaused)
	return true
}

func (p *Player) Unpause() bool {
	p.mu.Lock()
	if p.status != proc.PlayerPaused {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	p.pauseMu.Lock()
	select {
	case <-p.pauseChan:
	default:
		close(p.pauseChan)
	}
	p.pauseMu.Unlock()

	p.transition(proc.PlayerPlaying)
	return true
}

func (p *Player) Stop() {
	p.mu.Lock()
	prov := p.provider
	cancel := p.cancel
	p.provider = nil
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if prov != nil {
		p.release()
		sys.LogVoice(MsgPlayerStreamStopped, p.guildID)
	}
	p.transition(proc.PlayerIdle)
}

func (p *Player) Status() proc.PlayerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Player) PlaybackDuration() time.Duration {
	p.mu.Lock()
	prov := p.provider
	p.mu.Unlock()
	if prov == nil {
		return 0
	}
	return prov.Played()
}

func (p *Player) OnStateChange(fn func(old, new proc.PlayerStatus)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

func (p *Player) transition(to proc.PlayerStatus) {
	p.mu.Lock()
	from := p.status
	p.status = to
	ls := slices.Clone(p.listeners)
	p.mu.Unlock()

	if from == to {
		return
	}
	for _, fn := range ls {
		fn(from, to)
	}
}

func (p *Player) release() {
	p.setOpusFrameProviderSafe(nil)
	p.setSpeakingSafe(0)
}

func (p *Player) connValid() bool {
	if p.ctx.Err() != nil || p.conn == nil {
		return false
	}
	v := reflect.ValueOf(p.conn)
	return v.Kind() != reflect.Ptr || !v.IsNil()
}

func (p *Player) setOpusFrameProviderSafe(provider voice.OpusFrameProvider) {
	if !p.connValid() {
		return
	}
	for i := range 3 {
		if p.trySetOpusFrameProvider(provider) {
			return
		}
		if i < 2 {
			select {
			case <-time.After(150 * time.Millisecond):
			case <-p.ctx.Done():
				return
			}
		}
	}
	sys.LogVoice(MsgPlayerProviderRetry, p.guildID)
}

func (p *Player) trySetOpusFrameProvider(provider voice.OpusFrameProvider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	p.conn.SetOpusFrameProvider(provider)
	return true
}

func (p *Player) setSpeakingSafe(flags voice.SpeakingFlags) {
	if !p.connValid() {
		return
	}
	for i := range 3 {
		if p.trySetSpeaking(flags) {
			return
		}
		if i < 2 {
			select {
			case <-time.After(150 * time.Millisecond):
			case <-p.ctx.Done():
				return
			}
		}
	}
	sys.LogVoice(MsgPlayerSpeakingRetry, p.guildID)
}

func (p *Player) trySetSpeaking(flags voice.SpeakingFlags) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	p.conn.SetSpeaking(p.ctx, flags)
	return true
}
