package home

import (
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/leeineian/gtatunes/sys"
)

const (
	MsgPingPong        = "# Pong! 🏓\n\n> **Latency:** %dms\n> **Players:** %d"
	MsgInfoDescription = "A place to listen to all of the GTA radio stations in one place."
	MsgInfoVersion     = "**Website Version:** [%s](%s)"
	MsgInfoUptime      = "**Uptime:** %s"
)

func init() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "ping",
		Description:              "Replies with Pong!",
		DefaultMemberPermissions: omit.New(&adminPerm),
	}, handlePing)
	sys.RegisterComponentHandler("ping_refresh", handlePingRefresh)

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "info",
		Description: "View information about GTATunes.",
	}, handleInfo)
}

func pingContainer(created time.Time) discord.ContainerComponent {
	players := 0
	if app != nil {
		players = len(app.Registry.List())
	}
	return discord.NewContainer(
		discord.NewTextDisplay(fmt.Sprintf(MsgPingPong, time.Since(created).Milliseconds(), players)),
		discord.NewActionRow(discord.NewSuccessButton("🔄 Refresh", "ping_refresh")),
	)
}

func handlePing(event *events.ApplicationCommandInteractionCreate) {
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		SetEphemeral(true).
		AddComponents(pingContainer(event.ID().Time())).
		Build())
}

func handlePingRefresh(event *events.ComponentInteractionCreate) {
	_ = event.UpdateMessage(discord.NewMessageUpdateBuilder().
		SetIsComponentsV2(true).
		SetComponents(pingContainer(event.ID().Time())).
		Build())
}

func handleInfo(event *events.ApplicationCommandInteractionCreate) {
	if app == nil {
		reply(event, MsgHomeNotReady)
		return
	}

	body := []string{"## GTATunes", MsgInfoDescription}
	if v, err := app.Catalog.Version(sys.AppContext); err == nil {
		body = append(body, fmt.Sprintf(MsgInfoVersion, v.Formatted, app.Catalog.BuildURL("/versions", nil)))
	}
	body = append(body, fmt.Sprintf(MsgInfoUptime, time.Since(sys.StartupTime).Round(time.Second)))

	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		SetEphemeral(true).
		AddComponents(discord.NewContainer(
			discord.NewSection(discord.NewTextDisplay(lines(body...))).
				WithAccessory(discord.NewThumbnail(app.Catalog.BuildURL("/logo.png", nil))),
			discord.NewActionRow(discord.NewLinkButton("Visit Website", app.Catalog.BaseURL())),
		).WithAccentColor(DefaultAccent)).
		Build())
}
