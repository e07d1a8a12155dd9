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
	MsgRegistryReplacing     = "Replacing existing player in guild %s."
	MsgRegistryRemoved       = "Removed player of guild %s from the registry."
	MsgRegistrySettingsLoad  = "Failed to load settings for guild %s: %v"
	MsgRegistrySettingsSave  = "Failed to save settings for guild %s: %v"
	MsgRegistryShutdown      = "Shutting down %d player(s)..."
	MsgRegistryConnectFailed = "Failed to connect to voice in guild %s: %v"
)

const DefaultEmptyChannelTTL = 60 * time.Second

// RegistryOptions are the collaborators handed to every Session the registry creates.
type RegistryOptions struct {
	Catalog   Catalog
	Transport Transport
	Messenger Messenger
	Settings  SettingsStore
	Hub       *Hub

	EmptyChannelTTL time.Duration
	Tracker         TrackerOptions
	Rand            func(int) int
	// OnCreate runs for every new Session before it is registered.
	OnCreate func(s *Session)
}

// Registry maps a guild to its single live Session.
type Registry struct {
	opts RegistryOptions

	mu       sync.RWMutex
	sessions map[snowflake.ID]*Session
	creating map[snowflake.ID]struct{}
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.EmptyChannelTTL <= 0 {
		opts.EmptyChannelTTL = DefaultEmptyChannelTTL
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(nil)
	}
	return &Registry{
		opts:     opts,
		sessions: make(map[snowflake.ID]*Session),
		creating: make(map[snowflake.ID]struct{}),
	}
}

func (r *Registry) Hub() *Hub {
	return r.opts.Hub
}

// Get returns the live Session of guildID, or nil.
func (r *Registry) Get(guildID snowflake.ID) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.sessions[guildID]
	if s == nil || !s.Alive() {
		return nil
	}
	return s
}

// Register installs s, destroying any Session already held for the guild.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	old := r.sessions[s.GuildID]
	r.sessions[s.GuildID] = s
	r.mu.Unlock()

	if old != nil && old != s {
		sys.LogPlayer(MsgRegistryReplacing, s.GuildID)
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					sys.LogError("Recovered while destroying replaced player in guild %s: %v", s.GuildID, rec)
				}
			}()
			old.Destroy()
		}()
	}

	s.On(EventDestroyed, func(EventData) {
		r.remove(s)
	})
	if !s.Alive() {
		r.remove(s)
	}
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.GuildID] == s {
		delete(r.sessions, s.GuildID)
		sys.LogDebug(MsgRegistryRemoved, s.GuildID)
	}
}

// List returns a snapshot of the live Sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Alive() {
			out = append(out, s)
		}
	}
	return out
}

// Create returns the live Session of guildID or builds a new one bound to
// channelID. The second result reports whether a Session was created.
func (r *Registry) Create(ctx context.Context, guildID, channelID, ownerID snowflake.ID) (*Session, bool, error) {
	r.mu.Lock()
	if s := r.sessions[guildID]; s != nil && s.Alive() {
		r.mu.Unlock()
		return s, false, nil
	}
	if _, busy := r.creating[guildID]; busy {
		r.mu.Unlock()
		return nil, false, ErrSessionBusy
	}
	r.creating[guildID] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.creating, guildID)
		r.mu.Unlock()
	}()

	conn, err := r.opts.Transport.Connect(ctx, guildID, channelID)
	if err != nil {
		sys.LogPlayer(MsgRegistryConnectFailed, guildID, err)
		return nil, false, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	settings := NewSettings()
	if r.opts.Settings != nil {
		values, err := r.opts.Settings.Load(ctx, guildID)
		if err != nil {
			sys.LogPlayer(MsgRegistrySettingsLoad, guildID, err)
		} else {
			settings.load(values)
		}
		store := r.opts.Settings
		settings.OnChange(func(values map[string]bool) {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Save(saveCtx, guildID, values); err != nil {
				sys.LogPlayer(MsgRegistrySettingsSave, guildID, err)
			}
		})
	}

	s := NewSession(SessionConfig{
		GuildID:   guildID,
		ChannelID: channelID,
		OwnerID:   ownerID,
		Conn:      conn,
		Catalog:   r.opts.Catalog,
		Settings:  settings,
		Rand:      r.opts.Rand,
	})

	if r.opts.Messenger != nil {
		s.Controllers = NewTracker(s, r.opts.Messenger, r.opts.Tracker)
		s.Bind(r.opts.Hub.OnChannelMessage(guildID, func(channelID snowflake.ID) {
			s.Controllers.NoteChannelMessage(s.Context(), channelID)
		}))
	}
	NewPresenceMonitor(s, r.opts.Hub, r.opts.Messenger, r.opts.EmptyChannelTTL)
	if r.opts.OnCreate != nil {
		r.opts.OnCreate(s)
	}

	r.Register(s)
	return s, true, nil
}

// Shutdown destroys every Session. Controller surfaces are left in place so a
// restore can pick them up again.
func (r *Registry) Shutdown() {
	sessions := r.List()
	if len(sessions) > 0 {
		sys.LogPlayer(MsgRegistryShutdown, len(sessions))
	}
	for _, s := range sessions {
		if s.Controllers != nil {
			s.Controllers.Detach()
		}
		s.Destroy()
	}
}
