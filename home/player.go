package home

import (
	"context"
	"errors"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/gtatunes/proc"
	"github.com/leeineian/gtatunes/sys"
)

const (
	MsgPlayerResumed       = "Playback resumed."
	MsgPlayerNotPaused     = "The playback isn't currently paused."
	MsgPlayerResumeFail    = "Failed to resume playback."
	MsgPlayerPaused        = "Playback paused."
	MsgPlayerNotPlaying    = "The playback isn't currently playing."
	MsgPlayerPauseFail     = "Failed to pause playback."
	MsgPlayerNext          = "Playing next song..."
	MsgPlayerPrevious      = "Playing previous song..."
	MsgPlayerNeedSong      = "A song must be playing to use this command."
	MsgPlayerBadTimestamp  = "Invalid timestamp provided. (e.g. 1:25 or 10)"
	MsgPlayerSeeked        = "Seeked playback."
	MsgPlayerStopped       = "Player stopped and disconnected from voice channel."
	MsgPlayerControllerOK  = "Created controller."
	MsgPlayerNeedPlaying   = "You must be playing something to use this command."
	MsgPlayerNoSubcommand  = "No subcommand found."
	MsgPlayerLogSubcommand = "Failed to handle player subcommand %s in guild %s (channel %s): %v"
)

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "player",
		Description: "Control the player.",
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{Name: "resume", Description: "Resume current playback."},
			discord.ApplicationCommandOptionSubCommand{Name: "pause", Description: "Pause current playback."},
			discord.ApplicationCommandOptionSubCommand{Name: "next", Description: "Skips to next song."},
			discord.ApplicationCommandOptionSubCommand{Name: "previous", Description: "Skips to previous song."},
			discord.ApplicationCommandOptionSubCommand{Name: "stop", Description: "Stops the current playback and disconnects the bot."},
			discord.ApplicationCommandOptionSubCommand{Name: "settings", Description: "Show player settings"},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "seek",
				Description: "Seek to a specific timestamp.",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "timestamp",
						Description: "The timestamp to seek to (e.g. 1:25).",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{Name: "controller", Description: "Creates a controller for the player"},
		},
	}, handlePlayer)
}

// activeSession replies and returns nil when the guild has no live player.
func activeSession(event *events.ApplicationCommandInteractionCreate) *proc.Session {
	if event.GuildID() == nil {
		reply(event, MsgHomeNotInGuild)
		return nil
	}
	if app == nil {
		reply(event, MsgHomeNotReady)
		return nil
	}
	s := app.Registry.Get(*event.GuildID())
	if s == nil {
		reply(event, MsgHomeNoPlayer)
		return nil
	}
	return s
}

func handlePlayer(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	s := activeSession(event)
	if s == nil {
		return
	}
	if data.SubCommandName == nil {
		reply(event, MsgPlayerNoSubcommand)
		return
	}
	sub := *data.SubCommandName
	ctx := sys.AppContext

	var err error
	switch sub {
	case "resume":
		err = playerResume(ctx, event, s)
	case "pause":
		err = playerPause(ctx, event, s)
	case "next":
		err = playerSkip(ctx, event, s, proc.Next)
	case "previous":
		err = playerSkip(ctx, event, s, proc.Previous)
	case "seek":
		err = playerSeek(ctx, event, s, data.String("timestamp"))
	case "stop":
		if err = s.Leave(ctx); err == nil {
			reply(event, MsgPlayerStopped)
		}
	case "controller":
		err = playerController(ctx, event, s)
	case "settings":
		err = event.CreateMessage(discord.NewMessageCreateBuilder().
			SetIsComponentsV2(true).
			SetEphemeral(true).
			AddComponents(renderSettings(s.GuildID, s.Settings.All())).
			Build())
	}
	if err != nil {
		sys.LogPlayer(MsgPlayerLogSubcommand, sub, s.GuildID, s.ChannelID, err)
		reply(event, sessionError(err))
	}
}

func playerResume(ctx context.Context, event *events.ApplicationCommandInteractionCreate, s *proc.Session) error {
	if !s.IsPaused() {
		reply(event, MsgPlayerNotPaused)
		return nil
	}
	ok, err := s.Resume(ctx)
	if err != nil {
		return err
	}
	if ok {
		reply(event, MsgPlayerResumed)
	} else {
		reply(event, MsgPlayerResumeFail)
	}
	return nil
}

func playerPause(ctx context.Context, event *events.ApplicationCommandInteractionCreate, s *proc.Session) error {
	if !s.IsPlaying() {
		reply(event, MsgPlayerNotPlaying)
		return nil
	}
	ok, err := s.Pause(ctx)
	if err != nil {
		return err
	}
	if ok {
		reply(event, MsgPlayerPaused)
	} else {
		reply(event, MsgPlayerPauseFail)
	}
	return nil
}

// playerSkip acknowledges first since resolving the next song can outlast the interaction deadline.
func playerSkip(ctx context.Context, event *events.ApplicationCommandInteractionCreate, s *proc.Session, dir proc.Direction) error {
	if s.Song() == nil || s.Station() == nil {
		reply(event, MsgPlayerNeedSong)
		return nil
	}
	_ = event.DeferCreateMessage(true)

	if err := s.PlayAdjacentSong(ctx, dir); err != nil {
		sys.LogPlayer(MsgPlayerLogSubcommand, "skip", s.GuildID, s.ChannelID, err)
		followUp(event, sessionError(err))
		return nil
	}
	if dir == proc.Previous {
		followUp(event, MsgPlayerPrevious)
	} else {
		followUp(event, MsgPlayerNext)
	}
	return nil
}

func playerSeek(ctx context.Context, event *events.ApplicationCommandInteractionCreate, s *proc.Session, raw string) error {
	seconds, ok := parseTimestamp(raw)
	if !ok {
		reply(event, MsgPlayerBadTimestamp)
		return nil
	}
	_ = event.DeferCreateMessage(true)
	if err := s.Seek(ctx, seconds); err != nil {
		if errors.Is(err, proc.ErrInvalidRequest) {
			followUp(event, MsgPlayerNeedSong)
			return nil
		}
		sys.LogPlayer(MsgPlayerLogSubcommand, "seek", s.GuildID, s.ChannelID, err)
		followUp(event, sessionError(err))
		return nil
	}
	followUp(event, MsgPlayerSeeked)
	return nil
}

func playerController(ctx context.Context, event *events.ApplicationCommandInteractionCreate, s *proc.Session) error {
	if s.Song() == nil || s.Station() == nil {
		reply(event, MsgPlayerNeedPlaying)
		return nil
	}
	_ = event.DeferCreateMessage(true)
	if _, err := s.Controllers.Create(ctx, event.Channel().ID()); err != nil {
		sys.LogPlayer(MsgPlayerLogSubcommand, "controller", s.GuildID, s.ChannelID, err)
		followUp(event, sessionError(err))
		return nil
	}
	followUp(event, MsgPlayerControllerOK)
	return nil
}
