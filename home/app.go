package home

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/gtatunes/audio"
	"github.com/leeineian/gtatunes/catalog"
	"github.com/leeineian/gtatunes/proc"
	"github.com/leeineian/gtatunes/sys"
)

const (
	MsgHomeNotInGuild  = "You cannot perform this action outside of a guild."
	MsgHomeNoPlayer    = "No active player in this guild."
	MsgHomeNotInVoice  = "You must be in a voice channel to use this command"
	MsgHomeBusy        = "The player is currently busy processing another action."
	MsgHomeFailed      = "Failed to handle action, please try again later."
	MsgHomeNotReady    = "The player is still starting up, please try again in a moment."
	MsgHomeVoiceStatus = "🎶 %s · %s"
)

// App is the runtime the command handlers operate on.
type App struct {
	Client    *bot.Client
	Catalog   *catalog.Client
	Registry  *proc.Registry
	Transport *audio.Transport
}

var app *App

// Bind installs the runtime and wires gateway signals into it.
func Bind(a *App) {
	app = a
	sys.RegisterVoiceStateUpdateHandler(onVoiceStateUpdate)
	sys.RegisterChannelDeleteHandler(onChannelDelete)
	sys.RegisterMessageCreateHandler(onMessageCreate)
}

func onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	a := app
	if a == nil {
		return
	}
	a.Transport.HandleVoiceStateUpdate(event)

	var ids []snowflake.ID
	if event.OldVoiceState.ChannelID != nil {
		ids = append(ids, *event.OldVoiceState.ChannelID)
	}
	if event.VoiceState.ChannelID != nil {
		ids = append(ids, *event.VoiceState.ChannelID)
	}
	a.Registry.Hub().VoiceStateChanged(event.VoiceState.GuildID, ids...)
}

func onChannelDelete(event *events.GuildChannelDelete) {
	if app == nil {
		return
	}
	app.Registry.Hub().ChannelDeleted(event.GuildID, event.ChannelID)
}

func onMessageCreate(event *events.GuildMessageCreate) {
	if app == nil || event.Message.Author.ID == event.Client().ID() {
		return
	}
	app.Registry.Hub().MessageCreated(event.GuildID, event.ChannelID)
}

// Occupancy counts the humans connected to a voice channel from the gateway cache.
func Occupancy(client *bot.Client) proc.OccupancyFunc {
	return func(guildID, channelID snowflake.ID) int {
		n := 0
		for state := range client.Caches.VoiceStates(guildID) {
			if state.ChannelID == nil || *state.ChannelID != channelID || state.UserID == client.ID() {
				continue
			}
			if m, ok := client.Caches.Member(guildID, state.UserID); ok && m.User.Bot {
				continue
			}
			n++
		}
		return n
	}
}

// WatchSession mirrors the session's track into the voice channel status.
func WatchSession(s *proc.Session) {
	a := app
	if a == nil {
		return
	}
	s.Bind(s.On(proc.EventPlay, func(d proc.EventData) {
		if d.Song == nil || d.Station == nil {
			return
		}
		a.Transport.SetStatus(s.GuildID, fmt.Sprintf(MsgHomeVoiceStatus, d.Song.Name, d.Station.Name))
	}))
}

// Messenger renders controller surfaces and notices as V2 component messages.
type Messenger struct {
	client  *bot.Client
	catalog *catalog.Client
}

func NewMessenger(client *bot.Client, c *catalog.Client) *Messenger {
	return &Messenger{client: client, catalog: c}
}

func (m *Messenger) ResolveChannel(ctx context.Context, guildID, channelID snowflake.ID) error {
	ch, ok := m.client.Caches.Channel(channelID)
	if !ok {
		return fmt.Errorf("unknown channel %s", channelID)
	}
	if ch.GuildID() != guildID {
		return fmt.Errorf("channel %s is not part of guild %s", channelID, guildID)
	}
	if _, ok := ch.(discord.GuildMessageChannel); !ok {
		return fmt.Errorf("channel %s cannot hold messages", channelID)
	}
	return nil
}

func (m *Messenger) SendController(ctx context.Context, channelID snowflake.ID, np proc.NowPlaying) (proc.MessageRef, error) {
	msg, err := m.client.Rest.CreateMessage(channelID, discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		AddComponents(renderController(m.catalog, np)).
		Build(), rest.WithCtx(ctx))
	if err != nil {
		return proc.MessageRef{}, err
	}
	return proc.MessageRef{ChannelID: channelID, MessageID: msg.ID}, nil
}

func (m *Messenger) EditController(ctx context.Context, ref proc.MessageRef, np proc.NowPlaying) error {
	_, err := m.client.Rest.UpdateMessage(ref.ChannelID, ref.MessageID, discord.NewMessageUpdateBuilder().
		SetIsComponentsV2(true).
		SetComponents(renderController(m.catalog, np)).
		Build(), rest.WithCtx(ctx))
	return err
}

func (m *Messenger) SendNotice(ctx context.Context, channelID snowflake.ID, content string) (proc.MessageRef, error) {
	msg, err := m.client.Rest.CreateMessage(channelID, discord.NewMessageCreateBuilder().
		SetContent(content).
		Build(), rest.WithCtx(ctx))
	if err != nil {
		return proc.MessageRef{}, err
	}
	return proc.MessageRef{ChannelID: channelID, MessageID: msg.ID}, nil
}

func (m *Messenger) Delete(ctx context.Context, ref proc.MessageRef) error {
	return m.client.Rest.DeleteMessage(ref.ChannelID, ref.MessageID, rest.WithCtx(ctx))
}

// Verifier checks saved players against the gateway cache before they are restored.
type Verifier struct {
	client *bot.Client
}

func NewVerifier(client *bot.Client) *Verifier {
	return &Verifier{client: client}
}

func (v *Verifier) Verify(ctx context.Context, state proc.SessionState) error {
	if _, ok := v.client.Caches.Guild(state.Guild); !ok {
		return fmt.Errorf("guild %s is unavailable", state.Guild)
	}
	ch, ok := v.client.Caches.Channel(state.VoiceChannel)
	if !ok || ch.GuildID() != state.Guild {
		return fmt.Errorf("voice channel %s is gone", state.VoiceChannel)
	}
	if _, ok := ch.(discord.GuildAudioChannel); !ok {
		return fmt.Errorf("channel %s is not a voice channel", state.VoiceChannel)
	}
	if _, err := v.client.Rest.GetMember(state.Guild, state.Owner, rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("owner %s: %w", state.Owner, err)
	}
	if Occupancy(v.client)(state.Guild, state.VoiceChannel) == 0 {
		return fmt.Errorf("nobody is listening in %s", state.VoiceChannel)
	}
	return nil
}
