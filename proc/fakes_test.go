package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/gtatunes/catalog"
)

const (
	testGuild   snowflake.ID = 100000000000000001
	testChannel snowflake.ID = 100000000000000002
	testOwner   snowflake.ID = 100000000000000003
	testText    snowflake.ID = 100000000000000004
)

type fakePlayer struct {
	mu        sync.Mutex
	status    PlayerStatus
	src       io.ReadCloser
	start     time.Duration
	elapsed   time.Duration
	plays     int
	playErr   error
	listeners []func(old, new PlayerStatus)
}

func (p *fakePlayer) transition(to PlayerStatus) {
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

func (p *fakePlayer) Play(src io.ReadCloser, start time.Duration) error {
	p.mu.Lock()
	if p.playErr != nil {
		p.mu.Unlock()
		src.Close()
		return p.playErr
	}
	p.src = src
	p.start = start
	p.elapsed = 0
	p.plays++
	p.mu.Unlock()

	p.transition(PlayerPlaying)
	return nil
}

func (p *fakePlayer) Pause() bool {
	if p.Status() != PlayerPlaying {
		return false
	}
	p.transition(PlayerPaused)
	return true
}

func (p *fakePlayer) Unpause() bool {
	if p.Status() != PlayerPaused {
		return false
	}
	p.transition(PlayerPlaying)
	return true
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	src := p.src
	p.src = nil
	p.mu.Unlock()
	if src != nil {
		src.Close()
	}
	p.transition(PlayerIdle)
}

// finish ends the current track as if the stream ran out.
func (p *fakePlayer) finish() {
	p.transition(PlayerIdle)
}

func (p *fakePlayer) Status() PlayerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *fakePlayer) PlaybackDuration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elapsed
}

func (p *fakePlayer) setElapsed(d time.Duration) {
	p.mu.Lock()
	p.elapsed = d
	p.mu.Unlock()
}

func (p *fakePlayer) startOffset() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.start
}

func (p *fakePlayer) OnStateChange(fn func(old, new PlayerStatus)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

type fakeConn struct {
	player *fakePlayer

	mu           sync.Mutex
	closed       int
	onDisconnect []func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{player: &fakePlayer{}}
}

func (c *fakeConn) Player() AudioPlayer { return c.player }

func (c *fakeConn) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

func (c *fakeConn) Close(ctx context.Context) {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) drop() {
	c.mu.Lock()
	fns := slices.Clone(c.onDisconnect)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (t *fakeTransport) Connect(ctx context.Context, guildID, channelID snowflake.ID) (Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	c := newFakeConn()
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[len(t.conns)-1]
}

type fakeCatalog struct {
	mu           sync.Mutex
	stations     map[catalog.GameKey][]catalog.Station
	stationCalls int
	streams      []string
	streamErr    map[string]error
	// streamHook runs before a stream is returned, outside the lock.
	streamHook func(audioURL string)
}

func newFakeCatalog(stations ...catalog.Station) *fakeCatalog {
	c := &fakeCatalog{
		stations:  make(map[catalog.GameKey][]catalog.Station),
		streamErr: make(map[string]error),
	}
	for _, st := range stations {
		c.stations[st.GameKey] = append(c.stations[st.GameKey], st)
	}
	return c
}

func (c *fakeCatalog) Stations(ctx context.Context, game catalog.GameKey) ([]catalog.Station, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]catalog.Station(nil), c.stations[game]...), nil
}

func (c *fakeCatalog) Station(ctx context.Context, game catalog.GameKey, key string) (*catalog.Station, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stationCalls++
	for _, st := range c.stations[game] {
		if st.Key == key {
			return &st, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (c *fakeCatalog) AudioURL(game catalog.GameKey, station string, song catalog.Song, opts catalog.PlayOptions) string {
	return fmt.Sprintf("audio://%s/%s/%s?intro=%d&outro=%d", game, station, song.Name, opts.Intro, opts.Outro)
}

func (c *fakeCatalog) Duration(ctx context.Context, audioURL string) (time.Duration, error) {
	return 180 * time.Second, nil
}

func (c *fakeCatalog) Stream(ctx context.Context, audioURL string) (io.ReadCloser, error) {
	c.mu.Lock()
	hook := c.streamHook
	err := c.streamErr[audioURL]
	c.mu.Unlock()

	if hook != nil {
		hook(audioURL)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.streams = append(c.streams, audioURL)
	c.mu.Unlock()
	return io.NopCloser(strings.NewReader("")), nil
}

func (c *fakeCatalog) failStream(audioURL string) {
	c.mu.Lock()
	c.streamErr[audioURL] = errors.New("status 500")
	c.mu.Unlock()
}

type fakeMessenger struct {
	mu       sync.Mutex
	nextID   snowflake.ID
	sent     []MessageRef
	notices  []MessageRef
	edits    []MessageRef
	deleted  []MessageRef
	failEdit map[snowflake.ID]bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{nextID: 200000000000000000, failEdit: make(map[snowflake.ID]bool)}
}

func (m *fakeMessenger) ResolveChannel(ctx context.Context, guildID, channelID snowflake.ID) error {
	if channelID == 0 {
		return errors.New("unknown channel")
	}
	return nil
}

func (m *fakeMessenger) newRef(channelID snowflake.ID) MessageRef {
	m.nextID++
	return MessageRef{ChannelID: channelID, MessageID: m.nextID}
}

func (m *fakeMessenger) SendController(ctx context.Context, channelID snowflake.ID, np NowPlaying) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := m.newRef(channelID)
	m.sent = append(m.sent, ref)
	return ref, nil
}

func (m *fakeMessenger) EditController(ctx context.Context, ref MessageRef, np NowPlaying) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEdit[ref.MessageID] {
		return errors.New("unknown message")
	}
	m.edits = append(m.edits, ref)
	return nil
}

func (m *fakeMessenger) SendNotice(ctx context.Context, channelID snowflake.ID, content string) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := m.newRef(channelID)
	m.notices = append(m.notices, ref)
	return ref, nil
}

func (m *fakeMessenger) Delete(ctx context.Context, ref MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ref)
	return nil
}

func (m *fakeMessenger) counts() (sent, notices, edits, deleted int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent), len(m.notices), len(m.edits), len(m.deleted)
}

func (m *fakeMessenger) wasDeleted(ref MessageRef) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.deleted {
		if r == ref {
			return true
		}
	}
	return false
}

func testStation(key string, names ...string) catalog.Station {
	st := catalog.Station{Key: key, GameKey: catalog.GameViceCity, Name: strings.ToUpper(key)}
	for _, n := range names {
		st.Songs = append(st.Songs, catalog.Song{
			Name:       n,
			Artists:    []string{"Artist"},
			StationKey: key,
			GameKey:    catalog.GameViceCity,
		})
	}
	return st
}

func newTestSession(t *testing.T, cat *fakeCatalog) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := NewSession(SessionConfig{
		GuildID:   testGuild,
		ChannelID: testChannel,
		OwnerID:   testOwner,
		Conn:      conn,
		Catalog:   cat,
		Rand:      func(int) int { return 0 },
	})
	t.Cleanup(s.Destroy)
	return s, conn
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func assertSongBelongsToStation(t *testing.T, s *Session) {
	t.Helper()
	song, station := s.Song(), s.Station()
	if song == nil {
		return
	}
	if station == nil {
		t.Fatalf("expected a station while %q is loaded", song.Name)
	}
	if song.StationKey != station.Key || song.GameKey != station.GameKey {
		t.Fatalf("expected song %q to belong to %s/%s, got %s/%s", song.Name, station.GameKey, station.Key, song.GameKey, song.StationKey)
	}
}

func (p *fakePlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}
