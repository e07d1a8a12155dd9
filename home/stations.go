package home

import (
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/gtatunes/catalog"
	"github.com/leeineian/gtatunes/sys"
)

const (
	MsgStationsFailed    = "Unable to retrieve GTATunes stations. Please try again later."
	MsgVersionFailed     = "Unable to retrieve GTATunes versions. Please try again later."
	MsgStationsRandom    = "Play Random Station"
	MsgStationsPlay      = "Play %s"
	MsgStationsLogFailed = "Failed to list stations of %s: %v"

	StationsPerRow = 3
)

func init() {
	choices := make([]discord.ApplicationCommandOptionChoiceString, 0, len(catalog.Games))
	for _, g := range catalog.Games {
		choices = append(choices, discord.ApplicationCommandOptionChoiceString{Name: g.Name(), Value: string(g)})
	}

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "stations",
		Description: "Get information about the stations",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:        "game",
				Description: "The game to browse",
				Required:    true,
				Choices:     choices,
			},
			discord.ApplicationCommandOptionString{
				Name:         "station",
				Description:  "The station to view",
				Autocomplete: true,
			},
		},
	}, handleStations)
	sys.RegisterAutocompleteHandler("stations", handlePlayAutocomplete)

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "version",
		Description: "View the current GTATunes version.",
	}, handleVersion)
}

func handleStations(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if app == nil {
		reply(event, MsgHomeNotReady)
		return
	}
	game := catalog.GameKey(data.String("game"))
	if !game.Valid() {
		reply(event, MsgPlayInvalidGame)
		return
	}
	_ = event.DeferCreateMessage(true)

	ctx := sys.AppContext
	var container discord.ContainerComponent
	if key, ok := data.OptString("station"); ok && key != "" {
		st, err := app.Catalog.Station(ctx, game, key)
		if err != nil {
			sys.LogCatalog(MsgStationsLogFailed, game, err)
			followUp(event, MsgPlayInvalidStatn)
			return
		}
		container = renderStation(app.Catalog, st)
	} else {
		stations, err := app.Catalog.Stations(ctx, game)
		if err != nil {
			sys.LogCatalog(MsgStationsLogFailed, game, err)
			followUp(event, MsgStationsFailed)
			return
		}
		container = renderGame(app.Catalog, game, stations)
	}

	_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdateBuilder().
		SetIsComponentsV2(true).
		SetComponents(container).
		Build())
}

// renderGame lists every station of a game as a play button.
func renderGame(c *catalog.Client, game catalog.GameKey, stations []catalog.Station) discord.ContainerComponent {
	songs := 0
	for _, st := range stations {
		songs += len(st.Songs)
	}

	subs := []discord.ContainerSubComponent{
		discord.NewSection(discord.NewTextDisplay(lines(
			"## "+game.Name(),
			fmt.Sprintf("**%d** stations.", len(stations)),
			fmt.Sprintf("**%d** songs.", songs),
		))).WithAccessory(discord.NewThumbnail(c.BuildURL("/"+string(game)+".png", nil))),
	}

	for i := 0; i < len(stations); i += StationsPerRow {
		row := stations[i:min(i+StationsPerRow, len(stations))]
		buttons := make([]discord.InteractiveComponent, 0, len(row))
		for _, st := range row {
			buttons = append(buttons, discord.NewSecondaryButton(truncate(st.Name, 80), "play:station:"+string(st.GameKey)+":"+st.Key))
		}
		subs = append(subs, discord.NewActionRow(buttons...))
	}
	subs = append(subs, discord.NewActionRow(discord.NewPrimaryButton(MsgStationsRandom, "play:game:"+string(game))))

	return discord.NewContainer(subs...).WithAccentColor(DefaultAccent)
}

// renderStation shows the track list of one station.
func renderStation(c *catalog.Client, st *catalog.Station) discord.ContainerComponent {
	tracks := make([]string, 0, len(st.Songs)+2)
	tracks = append(tracks, st.GameKey.Name(), "### "+st.Name)
	for i, song := range st.Songs {
		tracks = append(tracks, fmt.Sprintf("%02d. **%s**\n    %s", i+1, song.Name, strings.Join(song.Artists, ", ")))
	}

	return discord.NewContainer(
		discord.NewSection(discord.NewTextDisplay(truncate(lines(tracks...), 4000))).
			WithAccessory(discord.NewThumbnail(c.IconURL(st.GameKey, st.Key, catalog.IconMedium))),
		discord.NewActionRow(discord.NewPrimaryButton(fmt.Sprintf(MsgStationsPlay, truncate(st.Name, 70)), "play:station:"+string(st.GameKey)+":"+st.Key)),
	).WithAccentColor(StationAccent(st.GameKey, st.Key))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func handleVersion(event *events.ApplicationCommandInteractionCreate) {
	if app == nil {
		reply(event, MsgHomeNotReady)
		return
	}
	v, err := app.Catalog.Version(sys.AppContext)
	if err != nil {
		sys.LogCatalog(MsgStationsLogFailed, "version", err)
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(MsgVersionFailed).Build())
		return
	}
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		SetEphemeral(true).
		AddComponents(discord.NewContainer(
			discord.NewTextDisplay(fmt.Sprintf("## GTATunes %s", v.Formatted)),
			discord.NewActionRow(discord.NewLinkButton("Visit Website", app.Catalog.BuildURL("/versions", nil))),
		).WithAccentColor(DefaultAccent)).
		Build())
}
