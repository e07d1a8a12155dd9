package proc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/gtatunes/sys"
)

const (
	MsgPresenceEmptyNotice = "<#%s> is empty, if no one joins within **%d seconds** the player will be destroyed."
	MsgPresenceArmed       = "Voice channel %s in guild %s is empty, destroying in %s."
	MsgPresenceDisarmed    = "Someone rejoined %s in guild %s, keeping the player."
	MsgPresenceExpired     = "Voice channel %s in guild %s stayed empty, destroying player."
	MsgPresenceDeleted     = "Voice channel %s in guild %s was deleted, destroying player."
	MsgPresenceNoticeFail  = "Failed to post empty channel notice in guild %s: %v"
)

// OccupancyFunc counts the non-bot members connected to a voice channel.
type OccupancyFunc func(guildID, channelID snowflake.ID) int

// Hub fans gateway signals out to the sessions of a guild.
type Hub struct {
	occupancy OccupancyFunc

	mu       sync.RWMutex
	nextID   uint64
	voice    map[snowflake.ID]map[uint64]func(channelIDs []snowflake.ID)
	deletes  map[snowflake.ID]map[uint64]func(channelID snowflake.ID)
	messages map[snowflake.ID]map[uint64]func(channelID snowflake.ID)
}

func NewHub(occupancy OccupancyFunc) *Hub {
	if occupancy == nil {
		occupancy = func(snowflake.ID, snowflake.ID) int { return 0 }
	}
	return &Hub{
		occupancy: occupancy,
		voice:     make(map[snowflake.ID]map[uint64]func([]snowflake.ID)),
		deletes:   make(map[snowflake.ID]map[uint64]func(snowflake.ID)),
		messages:  make(map[snowflake.ID]map[uint64]func(snowflake.ID)),
	}
}

func (h *Hub) Occupants(guildID, channelID snowflake.ID) int {
	return h.occupancy(guildID, channelID)
}

func hubSubscribe[F any](h *Hub, m map[snowflake.ID]map[uint64]F, guildID snowflake.ID, fn F) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if m[guildID] == nil {
		m[guildID] = make(map[uint64]F)
	}
	m[guildID][id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(m[guildID], id)
			if len(m[guildID]) == 0 {
				delete(m, guildID)
			}
		})
	}
}

func hubSnapshot[F any](h *Hub, m map[snowflake.ID]map[uint64]F, guildID snowflake.ID) []F {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]F, 0, len(m[guildID]))
	for _, fn := range m[guildID] {
		out = append(out, fn)
	}
	return out
}

// OnVoiceUpdate is called with the channels a member left or joined.
func (h *Hub) OnVoiceUpdate(guildID snowflake.ID, fn func(channelIDs []snowflake.ID)) func() {
	return hubSubscribe(h, h.voice, guildID, fn)
}

func (h *Hub) OnChannelDelete(guildID snowflake.ID, fn func(channelID snowflake.ID)) func() {
	return hubSubscribe(h, h.deletes, guildID, fn)
}

func (h *Hub) OnChannelMessage(guildID snowflake.ID, fn func(channelID snowflake.ID)) func() {
	return hubSubscribe(h, h.messages, guildID, fn)
}

// VoiceStateChanged publishes a voice state update. Zero ids are ignored.
func (h *Hub) VoiceStateChanged(guildID snowflake.ID, channelIDs ...snowflake.ID) {
	ids := make([]snowflake.ID, 0, len(channelIDs))
	for _, id := range channelIDs {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	for _, fn := range hubSnapshot(h, h.voice, guildID) {
		fn(ids)
	}
}

func (h *Hub) ChannelDeleted(guildID, channelID snowflake.ID) {
	for _, fn := range hubSnapshot(h, h.deletes, guildID) {
		fn(channelID)
	}
}

func (h *Hub) MessageCreated(guildID, channelID snowflake.ID) {
	for _, fn := range hubSnapshot(h, h.messages, guildID) {
		fn(channelID)
	}
}

// PresenceMonitor destroys its Session when the voice channel is deleted or
// stays empty for longer than the grace period.
type PresenceMonitor struct {
	session   *Session
	hub       *Hub
	messenger Messenger
	ttl       time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	armID  uint64
	notice *MessageRef
}

func NewPresenceMonitor(s *Session, hub *Hub, messenger Messenger, ttl time.Duration) *PresenceMonitor {
	if ttl <= 0 {
		ttl = DefaultEmptyChannelTTL
	}
	p := &PresenceMonitor{
		session:   s,
		hub:       hub,
		messenger: messenger,
		ttl:       ttl,
	}

	s.Bind(hub.OnChannelDelete(s.GuildID, p.handleChannelDelete))
	s.Bind(hub.OnVoiceUpdate(s.GuildID, func(ids []snowflake.ID) {
		for _, id := range ids {
			if id == s.ChannelID {
				p.Check()
				return
			}
		}
	}))
	s.Bind(func() { p.disarm() })
	return p
}

// Armed reports whether a grace timer is pending.
func (p *PresenceMonitor) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil
}

// Check re-evaluates the occupancy of the Session's channel.
func (p *PresenceMonitor) Check() {
	if !p.session.Alive() {
		return
	}
	if p.hub.Occupants(p.session.GuildID, p.session.ChannelID) > 0 {
		if p.disarm() {
			sys.LogPresence(MsgPresenceDisarmed, p.session.ChannelID, p.session.GuildID)
		}
		return
	}
	p.arm()
}

func (p *PresenceMonitor) arm() {
	p.mu.Lock()
	if p.timer != nil {
		p.mu.Unlock()
		return
	}
	p.armID++
	id := p.armID
	p.timer = time.AfterFunc(p.ttl, func() { p.expire(id) })
	p.mu.Unlock()

	sys.LogPresence(MsgPresenceArmed, p.session.ChannelID, p.session.GuildID, p.ttl)
	if p.messenger != nil {
		sys.SafeGo(func() { p.postNotice(id) })
	}
}

// disarm stops the grace timer and removes the notice. It reports whether a
// timer was armed.
func (p *PresenceMonitor) disarm() bool {
	p.mu.Lock()
	t := p.timer
	p.timer = nil
	p.armID++
	notice := p.notice
	p.notice = nil
	p.mu.Unlock()

	if t != nil {
		t.Stop()
	}
	p.deleteNotice(notice)
	return t != nil
}

func (p *PresenceMonitor) expire(id uint64) {
	p.mu.Lock()
	if p.armID != id || p.timer == nil {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	notice := p.notice
	p.notice = nil
	p.mu.Unlock()

	sys.LogPresence(MsgPresenceExpired, p.session.ChannelID, p.session.GuildID)
	p.session.Destroy()
	p.deleteNotice(notice)
}

func (p *PresenceMonitor) handleChannelDelete(channelID snowflake.ID) {
	if channelID != p.session.ChannelID {
		return
	}
	sys.LogPresence(MsgPresenceDeleted, channelID, p.session.GuildID)
	p.disarm()
	p.session.Destroy()
}

func (p *PresenceMonitor) postNotice(id uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	content := fmt.Sprintf(MsgPresenceEmptyNotice, p.session.ChannelID, int(p.ttl.Seconds()))
	ref, err := p.messenger.SendNotice(ctx, p.session.ChannelID, content)
	if err != nil {
		sys.LogPresence(MsgPresenceNoticeFail, p.session.GuildID, err)
		return
	}

	p.mu.Lock()
	if p.armID == id && p.timer != nil {
		p.notice = &ref
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	// The timer fired or was canceled while the notice was in flight.
	p.deleteNotice(&ref)
}

func (p *PresenceMonitor) deleteNotice(ref *MessageRef) {
	if ref == nil || p.messenger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.messenger.Delete(ctx, *ref); err != nil {
		sys.LogDebug("Failed to delete empty channel notice %s: %v", ref.MessageID, err)
	}
}
