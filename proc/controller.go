package proc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/gtatunes/sys"
	"golang.org/x/time/rate"
)

const (
	MsgControllerCreated     = "Created controller %s in channel %s (guild %s)."
	MsgControllerReplaced    = "Replacing controller %s in channel %s."
	MsgControllerPruned      = "Pruning controller %s in guild %s: %v"
	MsgControllerDeleteFail  = "Failed to delete controller %s: %v"
	MsgControllerRespawn     = "Respawning controller in channel %s after %d messages."
	MsgControllerRespawnFail = "Failed to respawn controller in channel %s: %v"
)

const (
	DefaultRefreshDebounce  = time.Second
	DefaultProgressInterval = 5 * time.Second
	DefaultProgressDrift    = 5.0
	MessagesBeforeRespawn   = 10
)

type TrackerOptions struct {
	Debounce         time.Duration
	ProgressInterval time.Duration
	// Drift is the elapsed seconds the rendered position may lag before a refresh.
	Drift float64
	// Limiter paces edits. Nil means 5 edits per second with a burst of 5.
	Limiter      *rate.Limiter
	RespawnAfter int
}

// Tracker keeps the controller surfaces of one Session in sync with it.
type Tracker struct {
	session   *Session
	messenger Messenger
	opts      TrackerOptions

	mu           sync.Mutex
	surfaces     []MessageRef
	counters     map[snowflake.ID]int
	lastRendered float64
	debounce     *time.Timer
	detached     bool
	closed       bool

	refreshMu sync.Mutex
	unsubs    []func()
}

func NewTracker(s *Session, messenger Messenger, opts TrackerOptions) *Tracker {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultRefreshDebounce
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.Drift <= 0 {
		opts.Drift = DefaultProgressDrift
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Limit(5), 5)
	}
	if opts.RespawnAfter <= 0 {
		opts.RespawnAfter = MessagesBeforeRespawn
	}

	t := &Tracker{
		session:   s,
		messenger: messenger,
		opts:      opts,
		counters:  make(map[snowflake.ID]int),
	}

	schedule := func(EventData) { t.ScheduleRefresh() }
	t.unsubs = append(t.unsubs,
		s.On(EventPlay, schedule),
		s.On(EventPaused, schedule),
		s.On(EventResumed, schedule),
		s.On(EventSeeked, schedule),
		s.On(EventDestroyed, func(EventData) { t.close() }),
	)

	sys.SafeGo(func() { t.progressLoop(s.Context()) })
	return t
}

func (t *Tracker) progressLoop(ctx context.Context) {
	ticker := time.NewTicker(t.opts.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.session.IsPlaying() {
				continue
			}
			ts, ok := t.session.CurrentTimestamp()
			if !ok {
				continue
			}
			t.mu.Lock()
			drift := math.Abs(ts - t.lastRendered)
			t.mu.Unlock()
			if drift >= t.opts.Drift {
				t.ScheduleRefresh()
			}
		}
	}
}

// ScheduleRefresh queues a refresh pass. Calls within the debounce window
// collapse into one pass issued after the window.
func (t *Tracker) ScheduleRefresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if t.debounce != nil {
		t.debounce.Stop()
	}
	t.debounce = time.AfterFunc(t.opts.Debounce, func() {
		t.mu.Lock()
		t.debounce = nil
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		ctx, cancel := context.WithTimeout(t.session.Context(), 30*time.Second)
		defer cancel()
		t.Refresh(ctx)
	})
}

// Refresh edits every surface with the current state. Surfaces that cannot be
// edited are dropped.
func (t *Tracker) Refresh(ctx context.Context) {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	refs := t.Refs()
	if len(refs) == 0 {
		return
	}
	np, ok := t.session.NowPlaying()
	if !ok {
		return
	}

	for _, ref := range refs {
		if err := t.opts.Limiter.Wait(ctx); err != nil {
			return
		}
		if err := t.messenger.EditController(ctx, ref, np); err != nil {
			if ctx.Err() != nil {
				return
			}
			sys.LogController(MsgControllerPruned, ref.MessageID, t.session.GuildID, fmt.Errorf("%w: %v", ErrSurfaceStale, err))
			t.Remove(ref)
		}
	}

	t.mu.Lock()
	t.lastRendered = np.Timestamp
	t.mu.Unlock()
}

// Create sends a new surface to channelID, replacing the one already there.
func (t *Tracker) Create(ctx context.Context, channelID snowflake.ID) (MessageRef, error) {
	if err := t.messenger.ResolveChannel(ctx, t.session.GuildID, channelID); err != nil {
		return MessageRef{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	np, ok := t.session.NowPlaying()
	if !ok {
		return MessageRef{}, fmt.Errorf("%w: nothing is playing", ErrInvalidRequest)
	}

	if old, ok := t.Lookup(channelID); ok {
		sys.LogController(MsgControllerReplaced, old.MessageID, channelID)
		_ = t.Delete(ctx, old)
	}

	ref, err := t.messenger.SendController(ctx, channelID, np)
	if err != nil {
		return MessageRef{}, err
	}
	t.Add(ref)

	t.mu.Lock()
	t.counters[channelID] = 0
	t.mu.Unlock()

	sys.LogController(MsgControllerCreated, ref.MessageID, channelID, t.session.GuildID)
	return ref, nil
}

// Add records an existing surface, replacing any other surface of the same channel.
func (t *Tracker) Add(ref MessageRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.surfaces {
		if r.ChannelID == ref.ChannelID {
			t.surfaces[i] = ref
			return
		}
	}
	t.surfaces = append(t.surfaces, ref)
}

// Remove forgets ref without touching the message.
func (t *Tracker) Remove(ref MessageRef) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.surfaces {
		if r == ref {
			t.surfaces = append(t.surfaces[:i:i], t.surfaces[i+1:]...)
			return true
		}
	}
	return false
}

// Delete forgets ref and deletes its message.
func (t *Tracker) Delete(ctx context.Context, ref MessageRef) error {
	t.Remove(ref)
	if err := t.messenger.Delete(ctx, ref); err != nil {
		sys.LogController(MsgControllerDeleteFail, ref.MessageID, err)
		return err
	}
	return nil
}

func (t *Tracker) Lookup(channelID snowflake.ID) (MessageRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.surfaces {
		if r.ChannelID == channelID {
			return r, true
		}
	}
	return MessageRef{}, false
}

// Has reports whether messageID is a known surface.
func (t *Tracker) Has(messageID snowflake.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.surfaces {
		if r.MessageID == messageID {
			return true
		}
	}
	return false
}

func (t *Tracker) HasChannel(channelID snowflake.ID) bool {
	_, ok := t.Lookup(channelID)
	return ok
}

func (t *Tracker) Refs() []MessageRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]MessageRef(nil), t.surfaces...)
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.surfaces)
}

// NoteChannelMessage counts a foreign message in channelID and moves the
// surface to the bottom once enough messages have piled up above it.
func (t *Tracker) NoteChannelMessage(ctx context.Context, channelID snowflake.ID) {
	if !t.HasChannel(channelID) {
		return
	}

	t.mu.Lock()
	t.counters[channelID]++
	count := t.counters[channelID]
	respawn := count > t.opts.RespawnAfter
	if respawn {
		t.counters[channelID] = 0
	}
	t.mu.Unlock()

	if !respawn {
		return
	}
	sys.LogController(MsgControllerRespawn, channelID, count)
	if _, err := t.Create(ctx, channelID); err != nil && !errors.Is(err, context.Canceled) {
		sys.LogController(MsgControllerRespawnFail, channelID, err)
	}
}

// Detach stops tracking without deleting the surfaces, so they outlive the Session.
func (t *Tracker) Detach() {
	t.mu.Lock()
	t.detached = true
	t.mu.Unlock()
}

func (t *Tracker) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.debounce != nil {
		t.debounce.Stop()
		t.debounce = nil
	}
	detached := t.detached
	refs := t.surfaces
	t.surfaces = nil
	unsubs := t.unsubs
	t.unsubs = nil
	t.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if detached || len(refs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		go func(ref MessageRef) {
			defer wg.Done()
			if err := t.messenger.Delete(ctx, ref); err != nil {
				sys.LogController(MsgControllerDeleteFail, ref.MessageID, err)
			}
		}(ref)
	}
	wg.Wait()
}
