package proc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/gtatunes/catalog"
	"github.com/leeineian/gtatunes/sys"
)

const (
	MsgPlayerCreated       = "Created in guild %s [channel %s, owner %s]"
	MsgPlayerLocked        = "Player in guild %s is already locked."
	MsgPlayerEvent         = "%s event emitted in guild %s."
	MsgPlayerDestroyed     = "Destroying player in guild %s."
	MsgPlayerDisconnected  = "Voice connection in guild %s dropped, destroying player."
	MsgPlayerDurationFail  = "Failed to get duration of %s (%s): %v"
	MsgPlayerStale         = "Discarding stale request %d in guild %s (current %d)."
	MsgPlayerAutoplayBusy  = "Autoplay skipped in guild %s: player is busy."
	MsgPlayerAutoplayFail  = "Autoplay failed in guild %s: %v"
	MsgPlayerAutoplayStale = "Autoplay skipped in guild %s: a newer request is active."
)

type Direction int

const (
	Previous Direction = -1
	Next     Direction = 1
)

// SessionConfig carries the collaborators of a Session.
type SessionConfig struct {
	GuildID   snowflake.ID
	ChannelID snowflake.ID
	OwnerID   snowflake.ID
	Conn      Connection
	Catalog   Catalog
	Settings  *Settings
	// Rand returns a value in [0, n). Defaults to math/rand/v2.
	Rand func(n int) int
}

// Session is the playback state of one guild. Mutating actions run under a
// fail-fast lock; a destroyed session never comes back.
type Session struct {
	GuildID   snowflake.ID
	ChannelID snowflake.ID
	OwnerID   snowflake.ID

	Settings    *Settings
	Controllers *Tracker

	events  *Emitter
	catalog Catalog
	conn    Connection
	player  AudioPlayer
	intn    func(int) int

	locked     atomic.Bool
	alive      atomic.Bool
	generation atomic.Uint64

	mu          sync.RWMutex
	station     *catalog.Station
	song        *catalog.Song
	songURL     string
	duration    time.Duration
	hasDuration bool
	seekOffset  time.Duration
	autoplay    bool

	bindingsMu sync.Mutex
	bindings   []func()

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Settings == nil {
		cfg.Settings = NewSettings()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.IntN
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		GuildID:   cfg.GuildID,
		ChannelID: cfg.ChannelID,
		OwnerID:   cfg.OwnerID,
		Settings:  cfg.Settings,
		events:    NewEmitter(),
		catalog:   cfg.Catalog,
		conn:      cfg.Conn,
		player:    cfg.Conn.Player(),
		intn:      cfg.Rand,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.alive.Store(true)

	s.player.OnStateChange(s.handleStateChange)
	s.conn.OnDisconnect(func() {
		if s.Alive() {
			sys.LogPlayer(MsgPlayerDisconnected, s.GuildID)
			s.Destroy()
		}
	})

	sys.LogPlayer(MsgPlayerCreated, s.GuildID, s.ChannelID, s.OwnerID)
	return s
}

// Lock runs action while holding the session lock. It fails immediately with
// ErrSessionBusy when another action holds it.
func (s *Session) Lock(ctx context.Context, action func(ctx context.Context) error) error {
	if !s.Alive() {
		return ErrSessionDestroyed
	}
	if !s.locked.CompareAndSwap(false, true) {
		sys.LogPlayer(MsgPlayerLocked, s.GuildID)
		return ErrSessionBusy
	}
	defer s.locked.Store(false)

	return action(ctx)
}

// On subscribes to a session event.
func (s *Session) On(ev Event, fn func(EventData)) func() {
	return s.events.On(ev, fn)
}

// Bind registers a cleanup that runs once when the session is destroyed.
func (s *Session) Bind(release func()) {
	s.bindingsMu.Lock()
	defer s.bindingsMu.Unlock()
	if !s.Alive() {
		go release()
		return
	}
	s.bindings = append(s.bindings, release)
}

func (s *Session) emit(ev Event, data EventData) {
	sys.LogDebug(MsgPlayerEvent, ev, s.GuildID)
	s.events.Emit(ev, data)
}

// ---- actions ----

// PlaySong plays song. When station does not own the song, the owning station
// is resolved through the catalog.
func (s *Session) PlaySong(ctx context.Context, song catalog.Song, station *catalog.Station) error {
	return s.Lock(ctx, func(ctx context.Context) error {
		return s.playSongLocked(ctx, song, station)
	})
}

// PlayAdjacentSong moves through the current station with wraparound.
func (s *Session) PlayAdjacentSong(ctx context.Context, dir Direction) error {
	return s.Lock(ctx, func(ctx context.Context) error {
		return s.playAdjacentSongLocked(ctx, dir)
	})
}

// PlayStation plays a random song of station.
func (s *Session) PlayStation(ctx context.Context, station catalog.Station) error {
	return s.Lock(ctx, func(ctx context.Context) error {
		return s.playStationLocked(ctx, station)
	})
}

// PlayAdjacentStation moves through the stations of the current game with wraparound.
func (s *Session) PlayAdjacentStation(ctx context.Context, dir Direction) error {
	return s.Lock(ctx, func(ctx context.Context) error {
		return s.playAdjacentStationLocked(ctx, dir)
	})
}

// PlayPreviousOrRestart restarts the song when more than five seconds have
// played, otherwise it goes back one song.
func (s *Session) PlayPreviousOrRestart(ctx context.Context) error {
	return s.Lock(ctx, func(ctx context.Context) error {
		if ts, ok := s.CurrentTimestamp(); ok && ts > 5 {
			return s.seekLocked(ctx, 0)
		}
		return s.playAdjacentSongLocked(ctx, Previous)
	})
}

func (s *Session) Pause(ctx context.Context) (bool, error) {
	var ok bool
	err := s.Lock(ctx, func(ctx context.Context) error {
		ok = s.player.Pause()
		if ok {
			s.emit(EventPaused, s.eventData())
		}
		return nil
	})
	return ok, err
}

func (s *Session) Resume(ctx context.Context) (bool, error) {
	var ok bool
	err := s.Lock(ctx, func(ctx context.Context) error {
		ok = s.player.Unpause()
		if ok {
			s.emit(EventResumed, s.eventData())
		}
		return nil
	})
	return ok, err
}

// TogglePause pauses a playing session and resumes a paused one.
func (s *Session) TogglePause(ctx context.Context) (bool, error) {
	var ok bool
	err := s.Lock(ctx, func(ctx context.Context) error {
		if s.player.Status() == PlayerPaused {
			if ok = s.player.Unpause(); ok {
				s.emit(EventResumed, s.eventData())
			}
			return nil
		}
		if ok = s.player.Pause(); ok {
			s.emit(EventPaused, s.eventData())
		}
		return nil
	})
	return ok, err
}

// Seek restarts the current song at the given offset in seconds.
func (s *Session) Seek(ctx context.Context, seconds float64) error {
	return s.Lock(ctx, func(ctx context.Context) error {
		return s.seekLocked(ctx, seconds)
	})
}

// Leave stops playback and destroys the session. It is the owner facing stop.
func (s *Session) Leave(ctx context.Context) error {
	return s.Lock(ctx, func(ctx context.Context) error {
		s.Destroy()
		return nil
	})
}

// Stop halts the transport and disables autoplay. With reset the loaded
// station, song and offsets are cleared as well.
func (s *Session) Stop(reset bool) {
	s.mu.Lock()
	s.autoplay = false
	if reset {
		s.station = nil
		s.song = nil
		s.songURL = ""
		s.duration = 0
		s.hasDuration = false
		s.seekOffset = 0
	}
	s.mu.Unlock()

	s.player.Stop()
}

// Destroy tears the session down. Calls after the first are no-ops.
func (s *Session) Destroy() {
	if !s.alive.CompareAndSwap(true, false) {
		return
	}
	s.generation.Add(1)
	sys.LogPlayer(MsgPlayerDestroyed, s.GuildID)

	s.Stop(true)
	s.cancel()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.conn.Close(closeCtx)
	cancel()

	s.bindingsMu.Lock()
	bindings := s.bindings
	s.bindings = nil
	s.bindingsMu.Unlock()
	for _, release := range bindings {
		release()
	}

	s.emit(EventDestroyed, EventData{})
	s.events.Clear()
}

// ---- locked implementations ----

func (s *Session) playSongLocked(ctx context.Context, song catalog.Song, station *catalog.Station) error {
	gen := s.generation.Add(1)

	if !song.BelongsTo(station) {
		s.mu.RLock()
		current := s.station
		s.mu.RUnlock()

		if song.BelongsTo(current) {
			station = current
		} else {
			st, err := s.catalog.Station(ctx, song.GameKey, song.StationKey)
			if err != nil {
				return fmt.Errorf("%w: station %s/%s: %v", ErrSourceUnavailable, song.GameKey, song.StationKey, err)
			}
			if !song.BelongsTo(st) {
				return fmt.Errorf("%w: song %q is not part of %s/%s", ErrInvalidRequest, song.Name, st.GameKey, st.Key)
			}
			station = st
		}
	}

	opts := playOptions(song, s.Settings, s.intn)
	audioURL := s.catalog.AudioURL(station.GameKey, station.Key, song, opts)

	duration, err := s.catalog.Duration(ctx, audioURL)
	hasDuration := err == nil
	if err != nil {
		sys.LogPlayer(MsgPlayerDurationFail, song.Name, song.StationKey, err)
	}

	src, err := s.catalog.Stream(s.ctx, audioURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	if current := s.generation.Load(); current != gen || !s.Alive() {
		_ = src.Close()
		sys.LogPlayer(MsgPlayerStale, gen, s.GuildID, current)
		return nil
	}

	s.Stop(false)
	if err := s.player.Play(src, 0); err != nil {
		s.Destroy()
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	st := *station
	s.mu.Lock()
	if s.generation.Load() != gen {
		s.mu.Unlock()
		return nil
	}
	s.station = &st
	s.song = &song
	s.songURL = audioURL
	s.duration = duration
	s.hasDuration = hasDuration
	s.seekOffset = 0
	s.autoplay = true
	data := s.eventDataLocked()
	s.mu.Unlock()

	s.emit(EventPlay, data)
	return nil
}

func (s *Session) playAdjacentSongLocked(ctx context.Context, dir Direction) error {
	s.mu.RLock()
	station := s.station
	song := s.song
	s.mu.RUnlock()

	if station == nil {
		return fmt.Errorf("%w: a station must be playing to move between songs", ErrInvalidRequest)
	}
	if len(station.Songs) == 0 {
		return fmt.Errorf("%w: station %s has no songs", ErrInvalidRequest, station.Key)
	}

	idx := -1
	if song != nil {
		idx = station.IndexOf(song.Name)
	}
	next := wrapIndex(idx+int(dir), len(station.Songs))
	return s.playSongLocked(ctx, station.Songs[next], station)
}

func (s *Session) playStationLocked(ctx context.Context, station catalog.Station) error {
	if len(station.Songs) == 0 {
		return fmt.Errorf("%w: station %s has no songs", ErrInvalidRequest, station.Key)
	}
	song := station.Songs[s.intn(len(station.Songs))]
	return s.playSongLocked(ctx, song, &station)
}

func (s *Session) playAdjacentStationLocked(ctx context.Context, dir Direction) error {
	s.mu.RLock()
	current := s.station
	s.mu.RUnlock()

	if current == nil {
		return fmt.Errorf("%w: a station must be playing to move between stations", ErrInvalidRequest)
	}

	stations, err := s.catalog.Stations(ctx, current.GameKey)
	if err != nil {
		return fmt.Errorf("%w: stations of %s: %v", ErrSourceUnavailable, current.GameKey, err)
	}
	if len(stations) == 0 {
		return fmt.Errorf("%w: %s has no stations", ErrSourceUnavailable, current.GameKey)
	}

	idx := -1
	for i := range stations {
		if stations[i].Key == current.Key {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = s.intn(len(stations))
	}
	return s.playStationLocked(ctx, stations[wrapIndex(idx+int(dir), len(stations))])
}

func (s *Session) seekLocked(ctx context.Context, seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("%w: invalid timestamp %v", ErrInvalidRequest, seconds)
	}
	if s.player.Status() == PlayerIdle {
		return fmt.Errorf("%w: the player is not in a seekable state", ErrInvalidRequest)
	}

	s.mu.RLock()
	audioURL := s.songURL
	duration, hasDuration := s.duration, s.hasDuration
	s.mu.RUnlock()

	if audioURL == "" {
		return fmt.Errorf("%w: no song is currently playing", ErrInvalidRequest)
	}
	if hasDuration && seconds > duration.Seconds() {
		return fmt.Errorf("%w: timestamp %.0fs is past the end of the song", ErrInvalidRequest, seconds)
	}

	gen := s.generation.Add(1)
	src, err := s.catalog.Stream(s.ctx, audioURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if current := s.generation.Load(); current != gen || !s.Alive() {
		_ = src.Close()
		sys.LogPlayer(MsgPlayerStale, gen, s.GuildID, current)
		return nil
	}

	offset := time.Duration(seconds * float64(time.Second))
	s.Stop(false)
	if err := s.player.Play(src, offset); err != nil {
		s.Destroy()
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	s.mu.Lock()
	if s.generation.Load() != gen {
		s.mu.Unlock()
		return nil
	}
	s.seekOffset = offset
	s.autoplay = true
	data := s.eventDataLocked()
	s.mu.Unlock()

	data.Timestamp = seconds
	s.emit(EventSeeked, data)
	return nil
}

// ---- end of track ----

func (s *Session) handleStateChange(old, new PlayerStatus) {
	if old == PlayerPlaying && new == PlayerIdle {
		s.onEnded()
	}
}

func (s *Session) onEnded() {
	gen := s.generation.Load()

	s.mu.RLock()
	advance := s.autoplay && s.station != nil
	data := s.eventDataLocked()
	s.mu.RUnlock()

	s.emit(EventEnded, data)

	if !advance || !s.Alive() {
		return
	}
	sys.SafeGo(func() { s.autoAdvance(gen) })
}

func (s *Session) autoAdvance(gen uint64) {
	err := s.Lock(s.ctx, func(ctx context.Context) error {
		if s.generation.Load() != gen {
			sys.LogPlayer(MsgPlayerAutoplayStale, s.GuildID)
			return nil
		}
		return s.playAdjacentSongLocked(ctx, Next)
	})

	switch {
	case err == nil, errors.Is(err, ErrSessionDestroyed):
	case errors.Is(err, ErrSessionBusy):
		sys.LogPlayer(MsgPlayerAutoplayBusy, s.GuildID)
	default:
		sys.LogPlayer(MsgPlayerAutoplayFail, s.GuildID, err)
	}
}

// ---- state ----

func (s *Session) Alive() bool {
	return s.alive.Load()
}

func (s *Session) Locked() bool {
	return s.locked.Load()
}

// Context is canceled when the session is destroyed.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Status() PlayerStatus {
	return s.player.Status()
}

func (s *Session) IsPlaying() bool {
	return s.player.Status() == PlayerPlaying
}

func (s *Session) IsPaused() bool {
	return s.player.Status() == PlayerPaused
}

func (s *Session) Autoplay() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoplay
}

func (s *Session) Station() *catalog.Station {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.station == nil {
		return nil
	}
	st := *s.station
	return &st
}

func (s *Session) Song() *catalog.Song {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.song == nil {
		return nil
	}
	song := *s.song
	return &song
}

func (s *Session) SongURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.songURL
}

// Duration returns the length of the current song, if the catalog reported one.
func (s *Session) Duration() (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.duration, s.hasDuration
}

// CurrentTimestamp returns the elapsed seconds of the current song. It is
// false while the transport is idle.
func (s *Session) CurrentTimestamp() (float64, bool) {
	if s.player.Status() == PlayerIdle {
		return 0, false
	}
	s.mu.RLock()
	offset := s.seekOffset
	s.mu.RUnlock()
	return (offset + s.player.PlaybackDuration()).Seconds(), true
}

// NowPlaying renders the session for controller surfaces. It is false when
// nothing is loaded.
func (s *Session) NowPlaying() (NowPlaying, bool) {
	status := s.player.Status()
	ts, _ := s.CurrentTimestamp()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.station == nil || s.song == nil {
		return NowPlaying{}, false
	}
	return NowPlaying{
		GuildID:     s.GuildID,
		Station:     *s.station,
		Song:        *s.song,
		Timestamp:   ts,
		Duration:    s.duration.Seconds(),
		HasDuration: s.hasDuration,
		Status:      status,
		Settings:    s.Settings.All(),
	}, true
}

func (s *Session) eventData() EventData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventDataLocked()
}

func (s *Session) eventDataLocked() EventData {
	var data EventData
	if s.station != nil {
		st := *s.station
		data.Station = &st
	}
	if s.song != nil {
		song := *s.song
		data.Song = &song
	}
	if s.player.Status() != PlayerIdle {
		data.Timestamp = (s.seekOffset + s.player.PlaybackDuration()).Seconds()
	}
	return data
}

func wrapIndex(i, n int) int {
	if i < 0 {
		return n - 1
	}
	if i >= n {
		return 0
	}
	return i
}
