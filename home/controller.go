package home

import (
	"context"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/gtatunes/proc"
	"github.com/leeineian/gtatunes/sys"
)

const (
	MsgControllerInactive   = "This player is no longer active."
	MsgControllerInvalid    = "Invalid player controller action."
	MsgControllerLogAction  = "Controller action %s failed in guild %s: %v"
	MsgControllerLogAdopted = "Adopted controller %s in channel %s"
)

func init() {
	sys.RegisterComponentHandler("controller:", handleControllerButton)
	sys.RegisterComponentHandler("setting:", handleSettingButton)
}

func handleControllerButton(event *events.ComponentInteractionCreate) {
	action, guildID, ok := parseControllerID(event.Data.CustomID())
	if !ok {
		replyComponent(event, MsgControllerInvalid)
		return
	}
	if app == nil {
		replyComponent(event, MsgHomeNotReady)
		return
	}

	s := app.Registry.Get(guildID)
	if s == nil {
		replyComponent(event, MsgControllerInactive)
		if !event.Message.Flags.Has(discord.MessageFlagEphemeral) {
			_ = event.Client().Rest.DeleteMessage(event.Message.ChannelID, event.Message.ID)
		}
		return
	}

	if action != ActionCreate && !s.Controllers.Has(event.Message.ID) {
		if s.Controllers.HasChannel(event.Message.ChannelID) {
			_ = event.Client().Rest.DeleteMessage(event.Message.ChannelID, event.Message.ID)
		} else {
			sys.LogController(MsgControllerLogAdopted, event.Message.ID, event.Message.ChannelID)
			s.Controllers.Add(proc.MessageRef{ChannelID: event.Message.ChannelID, MessageID: event.Message.ID})
		}
	}

	if action == ActionSettings {
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().
			SetIsComponentsV2(true).
			SetEphemeral(true).
			AddComponents(renderSettings(s.GuildID, s.Settings.All())).
			Build())
		return
	}

	run := controllerAction(s, action, event)
	if run == nil {
		replyComponent(event, MsgControllerInvalid)
		return
	}

	_ = event.DeferUpdateMessage()
	if err := run(sys.AppContext); err != nil {
		sys.LogController(MsgControllerLogAction, action, guildID, err)
		followUpComponent(event, sessionError(err))
	}
}

func controllerAction(s *proc.Session, action string, event *events.ComponentInteractionCreate) func(ctx context.Context) error {
	switch action {
	case ActionPlay:
		return func(ctx context.Context) error {
			_, err := s.TogglePause(ctx)
			return err
		}
	case ActionPrevious:
		return s.PlayPreviousOrRestart
	case ActionNext:
		return func(ctx context.Context) error { return s.PlayAdjacentSong(ctx, proc.Next) }
	case ActionPreviousStation:
		return func(ctx context.Context) error { return s.PlayAdjacentStation(ctx, proc.Previous) }
	case ActionNextStation:
		return func(ctx context.Context) error { return s.PlayAdjacentStation(ctx, proc.Next) }
	case ActionStop:
		return s.Leave
	case ActionCreate:
		return func(ctx context.Context) error {
			_, err := s.Controllers.Create(ctx, event.Channel().ID())
			return err
		}
	case ActionDelete:
		return func(ctx context.Context) error {
			ref := proc.MessageRef{ChannelID: event.Message.ChannelID, MessageID: event.Message.ID}
			if !s.Controllers.Has(ref.MessageID) {
				return nil
			}
			return s.Controllers.Delete(ctx, ref)
		}
	}
	return nil
}

// handleSettingButton flips one setting and redraws the panel in place.
func handleSettingButton(event *events.ComponentInteractionCreate) {
	key, guildID, ok := parseSettingID(event.Data.CustomID())
	if !ok {
		replyComponent(event, MsgControllerInvalid)
		return
	}
	if app == nil {
		replyComponent(event, MsgHomeNotReady)
		return
	}
	s := app.Registry.Get(guildID)
	if s == nil {
		replyComponent(event, MsgControllerInactive)
		return
	}

	if err := s.Settings.Set(key, !s.Settings.Get(key)); err != nil {
		replyComponent(event, MsgHomeFailed)
		return
	}
	_ = event.UpdateMessage(discord.NewMessageUpdateBuilder().
		SetIsComponentsV2(true).
		SetComponents(renderSettings(s.GuildID, s.Settings.All())).
		Build())
}
